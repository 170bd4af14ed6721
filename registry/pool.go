// Package registry holds the shared state brokers and clients keep in the
// coordination store: the broker pool under /BROKER, the canonical broker
// address stored on /BROKER itself, the balancer roster on /BALANCER and the
// topic ownership nodes under /<topic>.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	lru "github.com/hashicorp/golang-lru"
)

// Well known nodes
const (
	BrokerPath   = "/BROKER"
	BalancerPath = "/BALANCER"
)

// PoolEntry is one live broker, parsed from its node name "<replica>_<seq>"
type PoolEntry struct {
	Name     string
	Replica  string
	Sequence uint64
}

// ParsePoolEntry splits a pool node name on its last underscore
func ParsePoolEntry(name string) (PoolEntry, error) {
	i := strings.LastIndex(name, "_")
	if i <= 0 || i == len(name)-1 {
		return PoolEntry{}, fmt.Errorf("malformed pool entry %q", name)
	}
	seq, err := strconv.ParseUint(name[i+1:], 10, 64)
	if err != nil {
		return PoolEntry{}, fmt.Errorf("malformed sequence in pool entry %q: %w", name, err)
	}
	return PoolEntry{Name: name, Replica: name[:i], Sequence: seq}, nil
}

// validReplica rejects names that would break the pool or roster encodings
func validReplica(replica string) error {
	if replica == "" || strings.ContainsAny(replica, "/-") {
		return fmt.Errorf("invalid replica name %q", replica)
	}
	return nil
}

// Leader returns the entry with the lowest sequence number
func Leader(entries []PoolEntry) (PoolEntry, bool) {
	if len(entries) == 0 {
		return PoolEntry{}, false
	}
	leader := entries[0]
	for _, e := range entries[1:] {
		if e.Sequence < leader.Sequence {
			leader = e
		}
	}
	return leader, true
}

// Pool is the broker pool registry
type Pool struct {
	client coord.Client
	addrs  *lru.Cache // entry name -> "ip:port"; entry values never change
}

// NewPool returns a Pool whose entry addresses are cached up to cacheSize entries
func NewPool(c coord.Client, cacheSize int) (*Pool, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Pool{client: c, addrs: cache}, nil
}

// Join creates this broker's ephemeral-sequential entry holding its address
func (p *Pool) Join(replica, address string) (PoolEntry, error) {
	if err := validReplica(replica); err != nil {
		return PoolEntry{}, err
	}
	created, err := p.client.Create(coord.Join(BrokerPath, replica+"_"), []byte(address), coord.EphemeralSequential)
	if err != nil {
		return PoolEntry{}, fmt.Errorf("joining broker pool: %w", err)
	}
	entry, err := ParsePoolEntry(coord.Base(created))
	if err != nil {
		return PoolEntry{}, err
	}
	p.addrs.Add(entry.Name, address)
	log.Info("joined broker pool as %s (%s)", entry.Name, address)
	return entry, nil
}

func (p *Pool) parse(names []string) []PoolEntry {
	entries := make([]PoolEntry, 0, len(names))
	live := make(map[string]struct{}, len(names))
	for _, name := range names {
		e, err := ParsePoolEntry(name)
		if err != nil {
			log.Warn("ignoring %s/%s: %v", BrokerPath, name, err)
			continue
		}
		entries = append(entries, e)
		live[name] = struct{}{}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	for _, k := range p.addrs.Keys() {
		if _, ok := live[k.(string)]; !ok {
			p.addrs.Remove(k)
		}
	}
	return entries
}

// Entries lists the live pool sorted by sequence number
func (p *Pool) Entries() ([]PoolEntry, error) {
	names, err := coord.ChildrenOrEmpty(p.client, BrokerPath)
	if err != nil {
		return nil, err
	}
	return p.parse(names), nil
}

// Watch lists the live pool and arms a one-shot watch on its membership
func (p *Pool) Watch() ([]PoolEntry, <-chan coord.Event, error) {
	names, ch, err := p.client.ChildrenW(BrokerPath)
	if errors.Is(err, coord.ErrNoNode) {
		// nobody joined yet; watch for the node itself instead
		_, _, ch, err = p.client.ExistsW(BrokerPath)
		return nil, ch, err
	}
	if err != nil {
		return nil, nil, err
	}
	return p.parse(names), ch, nil
}

// Address returns the "ip:port" an entry was created with
func (p *Pool) Address(name string) (string, error) {
	if v, ok := p.addrs.Get(name); ok {
		return v.(string), nil
	}
	data, _, err := p.client.Get(coord.Join(BrokerPath, name))
	if err != nil {
		return "", fmt.Errorf("reading address of %s: %w", name, err)
	}
	addr := string(data)
	p.addrs.Add(name, addr)
	return addr, nil
}

// CurrentBroker returns the canonical broker address, "" if none was published yet
func (p *Pool) CurrentBroker() (string, error) {
	return coord.GetValue(p.client, BrokerPath)
}

// SetCurrentBroker publishes address as the canonical broker
func (p *Pool) SetCurrentBroker(address string) error {
	return coord.SetValue(p.client, BrokerPath, address)
}

// WatchCurrentBroker reads the canonical broker and arms a one-shot watch on it
func (p *Pool) WatchCurrentBroker() (string, <-chan coord.Event, error) {
	return watchValue(p.client, BrokerPath)
}

func watchValue(c coord.Client, path string) (string, <-chan coord.Event, error) {
	ok, _, ch, err := c.ExistsW(path)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", ch, nil
	}
	v, err := coord.GetValue(c, path)
	return v, ch, err
}
