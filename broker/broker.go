// Package broker is a broker replica: it joins the broker pool, follows or
// leads it, assigns publishers and subscribers to roster members, scales the
// roster with load when leading, and rebroadcasts publications from the
// publisher that owns their topic.
//
// All broker state is owned by a single event loop. Connection goroutines
// decode requests and hand them to the loop; the loop also consumes the one-shot
// pool watch, re-arming it on every fire, and a poll ticker that retries work
// a coordination store race pushed back.
package broker

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/telemetry"
	"github.com/CefBoud/monpubsub/types"
	"github.com/hashicorp/go-metrics"
)

// State of a broker in the election
type State int

// Election states
const (
	Bootstrapping State = iota
	Follower
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Leader:
		return "leader"
	default:
		return "bootstrapping"
	}
}

// Broadcaster is the broker's broadcast endpoint
type Broadcaster interface {
	Broadcast(line string) int
	Port() string
}

// rosterStore is the versioned roster node, a *registry.Balancer outside tests
type rosterStore interface {
	Read() (registry.Roster, int32, error)
	Write(r registry.Roster, version int32) error
	Reset(r registry.Roster) error
}

// Broker represents a broker replica
type Broker struct {
	Config  types.Configuration
	Metrics *metrics.Metrics
	Clock   func() time.Time

	client   coord.Client
	pool     *registry.Pool
	balancer rosterStore
	topics   *registry.Topics
	out      Broadcaster

	address string // "ip:port" of the RPC endpoint
	self    registry.PoolEntry
	state   State
	load    *LoadMonitor
	reg     *Registry

	poolSize   int
	poolWatch  <-chan coord.Event
	needsRetry bool

	calls          chan call
	ShutDownSignal chan struct{}
}

// NewBroker creates a broker over a coordination session and a broadcast endpoint
func NewBroker(config types.Configuration, client coord.Client, out Broadcaster) (*Broker, error) {
	pool, err := registry.NewPool(client, config.AddressCacheSize)
	if err != nil {
		return nil, err
	}
	if config.ReplicaName == "" {
		config.ReplicaName = config.BrokerHost
	}
	b := &Broker{
		Config:         config,
		Metrics:        telemetry.Discard(),
		Clock:          time.Now,
		client:         client,
		pool:           pool,
		balancer:       registry.NewBalancer(client),
		topics:         registry.NewTopics(client),
		out:            out,
		address:        net.JoinHostPort(config.BrokerHost, strconv.Itoa(int(config.BrokerPort))),
		calls:          make(chan call),
		ShutDownSignal: make(chan struct{}),
		load:           NewLoadMonitor(config.Scaling, time.Now()),
		reg:            NewRegistry(nil),
	}
	return b, nil
}

// Address is the RPC address the broker advertises
func (b *Broker) Address() string { return b.address }

// Entry is the broker's pool entry
func (b *Broker) Entry() registry.PoolEntry { return b.self }

// State is the broker's election state
func (b *Broker) State() State { return b.state }

// IsLeader reports whether the broker currently leads the pool
func (b *Broker) IsLeader() bool { return b.state == Leader }

// Bootstrap joins the pool and evaluates leadership once
func (b *Broker) Bootstrap() error {
	entry, err := b.pool.Join(b.Config.ReplicaName, b.address)
	if err != nil {
		return err
	}
	b.self = entry
	b.state = Follower
	b.load = NewLoadMonitor(b.Config.Scaling, b.Clock())
	b.evaluateLeadership()
	return nil
}

// evaluateLeadership lists the pool, re-arming the pool watch, and moves the
// broker to the state the lowest sequence number dictates
func (b *Broker) evaluateLeadership() {
	b.needsRetry = false
	entries, ch, err := b.pool.Watch()
	if err != nil {
		log.Error("listing broker pool: %v", err)
		b.poolWatch = nil
		b.needsRetry = true
		return
	}
	b.poolWatch = ch
	b.poolSize = len(entries)
	b.Metrics.SetGauge(telemetry.KeyPoolSize, float32(len(entries)))

	leader, ok := registry.Leader(entries)
	switch {
	case ok && leader.Name == b.self.Name && b.state != Leader:
		b.becomeLeader()
	case ok && leader.Name == b.self.Name:
		b.maintain(entries)
	case b.state == Leader:
		log.Info("%s is no longer leader, %s is", b.self.Name, leader.Name)
		b.state = Follower
		b.Metrics.SetGauge(telemetry.KeyLeader, 0)
	}
}

func (b *Broker) becomeLeader() {
	if err := b.pool.SetCurrentBroker(b.address); err != nil {
		log.Error("publishing %s as current broker: %v", b.address, err)
		b.needsRetry = true
		return
	}
	roster := registry.Roster{b.self.Name}
	if err := b.balancer.Reset(roster); err != nil {
		log.Error("resetting balancer roster: %v", err)
		b.needsRetry = true
		return
	}
	b.state = Leader
	b.reg.Reset(roster)
	b.Metrics.SetGauge(telemetry.KeyLeader, 1)
	b.Metrics.SetGauge(telemetry.KeyRosterSize, 1)
	log.Info("I am leader! %s (%s) now owns %s and %s", b.self.Name, b.address, registry.BrokerPath, registry.BalancerPath)
}

// maintain keeps a sitting leader's view consistent: the canonical broker
// names it and the roster holds live pool members only
func (b *Broker) maintain(entries []registry.PoolEntry) {
	if current, err := b.pool.CurrentBroker(); err != nil || current != b.address {
		if err := b.pool.SetCurrentBroker(b.address); err != nil {
			log.Error("publishing %s as current broker: %v", b.address, err)
			b.needsRetry = true
		}
	}

	roster, version, err := b.balancer.Read()
	if err != nil {
		log.Error("reading balancer roster: %v", err)
		b.needsRetry = true
		return
	}
	live := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		live[e.Name] = struct{}{}
	}
	var pruned registry.Roster
	for _, name := range roster {
		if _, ok := live[name]; ok {
			pruned = append(pruned, name)
		}
	}
	if !pruned.Contains(b.self.Name) {
		pruned = append(registry.Roster{b.self.Name}, pruned...)
	}
	if pruned.Equal(roster) {
		return
	}
	if err := b.balancer.Write(pruned, version); err != nil {
		b.rosterWriteFailed("pruning", err)
		return
	}
	log.Info("pruned balancer roster %q -> %q", roster, pruned)
	b.reg.Reset(pruned)
	b.Metrics.SetGauge(telemetry.KeyRosterSize, float32(len(pruned)))
}

func (b *Broker) rosterWriteFailed(op string, err error) {
	b.needsRetry = true
	if errors.Is(err, coord.ErrBadVersion) {
		log.Warn("%s balancer roster raced with another writer, retrying on next tick", op)
		return
	}
	log.Error("%s balancer roster: %v", op, err)
}

// tick runs once per poll interval
func (b *Broker) tick() {
	if b.needsRetry || b.poolWatch == nil {
		b.evaluateLeadership()
	}
}

// HandleRequest serves one decoded request. Every request counts towards the
// load window before it is dispatched.
func (b *Broker) HandleRequest(msg protocol.Message) ([]byte, protocol.Error) {
	b.Metrics.IncrCounter(telemetry.KeyRequests, 1)
	switch b.load.Observe(b.Clock(), b.IsLeader()) {
	case ScaleUp:
		b.scaleUp()
	case ScaleDown:
		b.scaleDown()
	}

	switch m := msg.(type) {
	case protocol.RegistrationMessage:
		return b.register(m)
	case protocol.DisseminationMessage:
		return b.disseminate(m)
	case protocol.ControlCommand:
		if m.Command == protocol.LoadCommand {
			return protocol.EncodeLoad(b.LoadSnapshot()), protocol.ErrNone
		}
		return protocol.EncodeString(b.out.Port()), protocol.ErrNone
	}
	return nil, protocol.ErrUnknownAPIKey
}

// LoadSnapshot reports the load window and topology as this broker sees it
func (b *Broker) LoadSnapshot() types.LoadSnapshot {
	snap := b.load.Snapshot()
	snap.Leader = b.IsLeader()
	snap.RosterSize = uint32(len(b.reg.Roster()))
	snap.PoolSize = uint32(b.poolSize)
	return snap
}

// syncRoster re-seeds the registry if /BALANCER moved since it was last seen.
// Without a roster (no leader yet) the broker serves alone.
func (b *Broker) syncRoster() error {
	roster, _, err := b.balancer.Read()
	if err != nil {
		return err
	}
	if len(roster) == 0 {
		roster = registry.Roster{b.self.Name}
	}
	if !roster.Equal(b.reg.Roster()) {
		log.Debug("balancer roster is now %q", roster)
		b.reg.Reset(roster)
	}
	return nil
}

func (b *Broker) register(m protocol.RegistrationMessage) ([]byte, protocol.Error) {
	addr, err := types.ParseEndpointID(m.EndpointID)
	if err != nil {
		log.Warn("rejecting registration: %v", err)
		return nil, protocol.ErrInvalidRequest
	}
	if err := b.syncRoster(); err != nil {
		log.Error("reading balancer roster: %v", err)
		return nil, protocol.ErrCoordUnavailable
	}
	node := types.NewNode(m.Topics, addr, m.HistoryLength)

	var assignment types.Assignment
	switch m.Role {
	case types.Publisher:
		skip := map[string]struct{}{}
		for {
			member, ok := b.reg.LeastLoaded(skip)
			if !ok {
				break
			}
			memberAddr, err := b.pool.Address(member)
			if err != nil {
				log.Warn("skipping roster member %s: %v", member, err)
				skip[member] = struct{}{}
				continue
			}
			b.reg.AddPublisher(member, node)
			assignment.Addresses = []string{memberAddr}
			break
		}
	case types.Subscriber:
		for _, member := range b.reg.Roster() {
			memberAddr, err := b.pool.Address(member)
			if err != nil {
				log.Warn("skipping roster member %s: %v", member, err)
				continue
			}
			assignment.Addresses = append(assignment.Addresses, memberAddr)
		}
		b.reg.AddSubscriber(node)
	default:
		return nil, protocol.ErrInvalidRequest
	}

	if assignment.Empty() {
		return nil, protocol.ErrBrokerNotAvailable
	}
	log.Debug("registered %s %s for %v -> %v", m.Role, addr, m.Topics, assignment.Addresses)
	return protocol.EncodeAssignment(assignment), protocol.ErrNone
}

func (b *Broker) disseminate(m protocol.DisseminationMessage) ([]byte, protocol.Error) {
	if _, err := registry.TopicPath(m.Topic); err != nil {
		return nil, protocol.ErrInvalidTopic
	}
	owner, err := b.topics.IsOwner(m.Topic, m.PublisherAddress)
	if err != nil {
		log.Error("resolving owner of %s: %v", m.Topic, err)
		return nil, protocol.ErrCoordUnavailable
	}
	if !owner {
		log.Info("dropping publication on %s from %s: not the topic owner", m.Topic, m.PublisherAddress)
		b.Metrics.IncrCounter(telemetry.KeyDropped, 1)
		return protocol.EncodeString(protocol.AckDropped), protocol.ErrNone
	}
	n := b.out.Broadcast(m.Line())
	b.Metrics.IncrCounter(telemetry.KeyBroadcasts, 1)
	log.Debug("disseminated %s to %d connections (%d registered subscribers)", m.Topic, n, len(b.reg.Interested(m.Topic)))
	return protocol.EncodeString(protocol.AckDisseminated), protocol.ErrNone
}

func (b *Broker) scaleUp() {
	entries, err := b.pool.Entries()
	if err != nil {
		log.Error("scale up: listing broker pool: %v", err)
		return
	}
	roster, version, err := b.balancer.Read()
	if err != nil {
		log.Error("scale up: reading balancer roster: %v", err)
		return
	}
	if len(entries) <= len(roster) {
		log.Debug("scale up: pool of %d cannot grow roster of %d", len(entries), len(roster))
		return
	}
	var next string
	for _, e := range entries {
		if !roster.Contains(e.Name) {
			next = e.Name
			break
		}
	}
	if next == "" {
		return
	}
	grown := append(append(registry.Roster(nil), roster...), next)
	if err := b.balancer.Write(grown, version); err != nil {
		b.rosterWriteFailed("scale up", err)
		return
	}
	b.reg.Reset(grown)
	b.Metrics.IncrCounter(telemetry.KeyScaleUp, 1)
	b.Metrics.SetGauge(telemetry.KeyRosterSize, float32(len(grown)))
	log.Info("scaled up: roster %q", grown)
}

func (b *Broker) scaleDown() {
	roster, version, err := b.balancer.Read()
	if err != nil {
		log.Error("scale down: reading balancer roster: %v", err)
		return
	}
	if len(roster) <= 1 {
		return
	}
	shrunk := append(registry.Roster(nil), roster[:len(roster)-1]...)
	if err := b.balancer.Write(shrunk, version); err != nil {
		b.rosterWriteFailed("scale down", err)
		return
	}
	b.reg.Reset(shrunk)
	b.Metrics.IncrCounter(telemetry.KeyScaleDown, 1)
	b.Metrics.SetGauge(telemetry.KeyRosterSize, float32(len(shrunk)))
	log.Info("scaled down: roster %q", shrunk)
}

func (b *Broker) String() string {
	return fmt.Sprintf("broker %s (%s, %s)", b.self.Name, b.address, b.state)
}
