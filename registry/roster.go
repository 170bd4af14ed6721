package registry

import (
	"errors"
	"strings"

	"github.com/CefBoud/monpubsub/coord"
)

// rosterSep joins roster members in the /BALANCER value
const rosterSep = "-"

// NoRoster is the version Balancer.Read reports when /BALANCER does not exist
const NoRoster int32 = -1

// Roster is the ordered list of pool entry names serving traffic
type Roster []string

// ParseRoster decodes a /BALANCER value
func ParseRoster(value string) Roster {
	if value == "" {
		return nil
	}
	var r Roster
	for _, name := range strings.Split(value, rosterSep) {
		if name != "" {
			r = append(r, name)
		}
	}
	return r
}

func (r Roster) String() string {
	return strings.Join(r, rosterSep)
}

// Contains reports whether name is a roster member
func (r Roster) Contains(name string) bool {
	for _, n := range r {
		if n == name {
			return true
		}
	}
	return false
}

// Equal compares two rosters member by member
func (r Roster) Equal(o Roster) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// Balancer reads and writes the roster node
type Balancer struct {
	client coord.Client
}

// NewBalancer returns a Balancer over c
func NewBalancer(c coord.Client) *Balancer {
	return &Balancer{client: c}
}

// Read returns the roster and the node version to pass to Write
func (b *Balancer) Read() (Roster, int32, error) {
	data, stat, err := b.client.Get(BalancerPath)
	if errors.Is(err, coord.ErrNoNode) {
		return nil, NoRoster, nil
	}
	if err != nil {
		return nil, NoRoster, err
	}
	return ParseRoster(string(data)), stat.Version, nil
}

// Write stores r if the node is still at version. Passing NoRoster creates the
// node. A concurrent writer surfaces as coord.ErrBadVersion.
func (b *Balancer) Write(r Roster, version int32) error {
	if version == NoRoster {
		_, err := b.client.Create(BalancerPath, []byte(r.String()), coord.Persistent)
		if errors.Is(err, coord.ErrNodeExists) {
			return coord.ErrBadVersion
		}
		return err
	}
	_, err := b.client.Set(BalancerPath, []byte(r.String()), version)
	return err
}

// Reset overwrites the roster unconditionally, creating it if needed
func (b *Balancer) Reset(r Roster) error {
	return coord.SetValue(b.client, BalancerPath, r.String())
}

// Watch reads the roster and arms a one-shot watch on it
func (b *Balancer) Watch() (Roster, <-chan coord.Event, error) {
	v, ch, err := watchValue(b.client, BalancerPath)
	return ParseRoster(v), ch, err
}
