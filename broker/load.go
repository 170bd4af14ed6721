package broker

import (
	"time"

	"github.com/CefBoud/monpubsub/types"
	"github.com/CefBoud/monpubsub/utils"
)

// Decision is what the load monitor asks the leader to do after a request
type Decision int

// Load decisions
const (
	Hold Decision = iota
	ScaleUp
	ScaleDown
)

func (d Decision) String() string {
	switch d {
	case ScaleUp:
		return "scale-up"
	case ScaleDown:
		return "scale-down"
	default:
		return "hold"
	}
}

// LoadMonitor counts requests over a rolling window. It is a coarse sampling
// heuristic: one counter, one window start, no coordination with other brokers.
type LoadMonitor struct {
	cfg         types.ScalingConfig
	count       int
	windowStart time.Time
}

// NewLoadMonitor starts a window at now
func NewLoadMonitor(cfg types.ScalingConfig, now time.Time) *LoadMonitor {
	return &LoadMonitor{cfg: cfg, windowStart: now}
}

// Observe counts one request and returns the scaling decision. Only a leader
// gets anything but Hold. A scale-up decision restarts the count, so one burst
// asks for one more replica.
func (m *LoadMonitor) Observe(now time.Time, leader bool) Decision {
	m.count++
	elapsed := now.Sub(m.windowStart)

	decision := Hold
	if leader {
		if m.count > m.cfg.ScaleUpRequests {
			decision = ScaleUp
			m.count = 0
		} else if m.count <= m.cfg.ScaleDownRequests && elapsed > m.cfg.ScaleDownIdle {
			decision = ScaleDown
		}
	}
	if elapsed > m.cfg.Window {
		m.windowStart = now
		m.count = 0
	}
	return decision
}

// Count is the number of requests seen in the current window
func (m *LoadMonitor) Count() int { return m.count }

// WindowStart is when the current window began
func (m *LoadMonitor) WindowStart() time.Time { return m.windowStart }

// Snapshot fills the load fields of a LoadSnapshot
func (m *LoadMonitor) Snapshot() types.LoadSnapshot {
	return types.LoadSnapshot{
		RequestCount:  uint32(m.count),
		WindowStartMs: utils.UnixMilli(m.windowStart),
	}
}
