// Package publisher produces topic-tagged values, either from its own
// broadcast endpoint (Direct) or through an assigned broker replica
// (ViaBroker). Both claim an ownership node per topic; only the oldest claim
// on a topic may publish on it.
//
// A Publisher is used from a single goroutine.
package publisher

import (
	"errors"
	"time"

	"github.com/CefBoud/monpubsub/compress"
	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/proxy"
	"github.com/CefBoud/monpubsub/utils"
)

// ErrNotOwner is returned when another publisher holds the older claim on a topic
var ErrNotOwner = errors.New("publisher: not the topic owner")

// Publisher publishes values on topics
type Publisher interface {
	Publish(topic, value string) error
	Close() error
}

// Options configure both publisher variants
type Options struct {
	// Host is the ip the publisher identifies itself with, LocalIP by default
	Host string
	// Port is the broadcast port of a Direct publisher, 0 picks a free one
	Port          uint32
	HistoryLength uint32

	RequestTimeout time.Duration
	Codec          compress.CompressionType
	Wait           coord.WaitOptions
}

// DefaultOptions returns Options with every field set to its default
func DefaultOptions() Options {
	return Options{
		Host:           utils.LocalIP(),
		HistoryLength:  1,
		RequestTimeout: proxy.DefaultTimeout,
		Codec:          compress.NONE,
		Wait:           coord.DefaultWaitOptions,
	}
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = utils.LocalIP()
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = proxy.DefaultTimeout
	}
	if o.Wait == (coord.WaitOptions{}) {
		o.Wait = coord.DefaultWaitOptions
	}
	return o
}

func (o Options) proxy(addr string) *proxy.BrokerProxy {
	return proxy.New(addr, proxy.WithTimeout(o.RequestTimeout), proxy.WithCodec(o.Codec))
}

// dedup drops repeated topics, keeping first occurrences in order
func dedup(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// fired reports, without blocking, whether a one-shot watch has fired.
// A nil watch counts as fired so that it gets armed.
func fired(w <-chan coord.Event) bool {
	if w == nil {
		return true
	}
	select {
	case <-w:
		return true
	default:
		return false
	}
}
