package broker

import (
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/types"
)

// Registry is a broker's in-memory view of who registered with it. It is
// owned by the broker's event loop and rebuilt from scratch on every roster
// change; clients re-register when they see the roster move.
type Registry struct {
	roster   registry.Roster
	counters map[string]int          // publishers assigned per roster member since the last reset
	pubs     map[string][]types.Node // publishers by assigned roster member
	subs     []types.Node
}

// NewRegistry returns an empty registry serving roster
func NewRegistry(roster registry.Roster) *Registry {
	r := &Registry{}
	r.Reset(roster)
	return r
}

// Reset seeds every roster member's counter to zero and forgets all registrations
func (r *Registry) Reset(roster registry.Roster) {
	r.roster = append(registry.Roster(nil), roster...)
	r.counters = make(map[string]int, len(roster))
	for _, name := range roster {
		r.counters[name] = 0
	}
	r.pubs = make(map[string][]types.Node)
	r.subs = nil
}

// Roster is the roster the registry was last reset with
func (r *Registry) Roster() registry.Roster {
	return r.roster
}

// LeastLoaded returns the roster member with the fewest assigned publishers,
// ties broken by roster order, skipping members in exclude
func (r *Registry) LeastLoaded(exclude map[string]struct{}) (string, bool) {
	best, found := "", false
	for _, name := range r.roster {
		if _, skip := exclude[name]; skip {
			continue
		}
		if !found || r.counters[name] < r.counters[best] {
			best, found = name, true
		}
	}
	return best, found
}

// AddPublisher records a publisher against a roster member and bumps its counter
func (r *Registry) AddPublisher(member string, n types.Node) {
	r.counters[member]++
	r.pubs[member] = append(r.pubs[member], n)
}

// AddSubscriber records a subscriber
func (r *Registry) AddSubscriber(n types.Node) {
	r.subs = append(r.subs, n)
}

// Counter is the number of publishers assigned to member since the last reset
func (r *Registry) Counter(member string) int {
	return r.counters[member]
}

// Publishers returns the publishers assigned to member
func (r *Registry) Publishers(member string) []types.Node {
	return r.pubs[member]
}

// Subscribers returns the registered subscribers
func (r *Registry) Subscribers() []types.Node {
	return r.subs
}

// Interested returns the subscribers registered for topic
func (r *Registry) Interested(topic string) []types.Node {
	var out []types.Node
	for _, n := range r.subs {
		if n.Interested(topic) {
			out = append(out, n)
		}
	}
	return out
}
