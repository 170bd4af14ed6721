// Package memory is an in-process coordination store. It keeps the
// semantics the broker subsystem depends on (sessions owning ephemeral
// nodes, per-parent sequence counters, store-wide creation IDs and one-shot
// watches) so brokers, publishers and subscribers can share one namespace
// inside a single process, which is how the package tests run them.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/CefBoud/monpubsub/coord"
)

type znode struct {
	data     []byte
	stat     coord.Stat
	owner    int64 // session id for ephemeral nodes, 0 otherwise
	nextSeq  int64 // sequence counter for sequential children
	children map[string]struct{}
}

// Store is the shared namespace. Open sessions on it with Session.
type Store struct {
	mu           sync.Mutex
	nodes        map[string]*znode
	createID     int64
	sessionID    int64
	dataWatches  map[string][]chan coord.Event
	childWatches map[string][]chan coord.Event
	sessions     map[int64]*Session
}

// New returns an empty store holding only the root node
func New() *Store {
	return &Store{
		nodes: map[string]*znode{
			"/": {children: make(map[string]struct{})},
		},
		dataWatches:  make(map[string][]chan coord.Event),
		childWatches: make(map[string][]chan coord.Event),
		sessions:     make(map[int64]*Session),
	}
}

// Session opens a new client session
func (s *Store) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID++
	sess := &Session{store: s, id: s.sessionID}
	s.sessions[sess.id] = sess
	return sess
}

// Dump returns every node path with its value, sorted by path. Handy in tests.
func (s *Store) Dump() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p, n := range s.nodes {
		out = append(out, fmt.Sprintf("%s=%s", p, n.data))
	}
	sort.Strings(out)
	return out
}

func (s *Store) fire(watches map[string][]chan coord.Event, path string, t coord.EventType) {
	for _, ch := range watches[path] {
		ch <- coord.Event{Type: t, Path: path}
		close(ch)
	}
	delete(watches, path)
}

func (s *Store) watch(watches map[string][]chan coord.Event, path string) <-chan coord.Event {
	ch := make(chan coord.Event, 1)
	watches[path] = append(watches[path], ch)
	return ch
}

func parentOf(p string) string {
	return coord.Parent(p)
}

// ensureParents creates missing ancestors of p as persistent nodes. Caller holds mu.
func (s *Store) ensureParents(p string) {
	parent := parentOf(p)
	if parent == p {
		return
	}
	if _, ok := s.nodes[parent]; ok {
		return
	}
	s.ensureParents(parent)
	s.insert(parent, nil, 0)
}

// insert adds a node under an existing parent and fires watches. Caller holds mu.
func (s *Store) insert(p string, data []byte, owner int64) {
	s.createID++
	s.nodes[p] = &znode{
		data:     append([]byte(nil), data...),
		stat:     coord.Stat{CreateID: s.createID, Ephemeral: owner != 0},
		owner:    owner,
		children: make(map[string]struct{}),
	}
	parent := parentOf(p)
	pn := s.nodes[parent]
	pn.children[coord.Base(p)] = struct{}{}
	pn.stat.NumChildren = int32(len(pn.children))
	s.fire(s.dataWatches, p, coord.EventCreated)
	s.fire(s.childWatches, parent, coord.EventChildrenChanged)
}

// remove deletes a node and fires watches. Caller holds mu.
func (s *Store) remove(p string) {
	delete(s.nodes, p)
	parent := parentOf(p)
	if pn, ok := s.nodes[parent]; ok {
		delete(pn.children, coord.Base(p))
		pn.stat.NumChildren = int32(len(pn.children))
	}
	s.fire(s.dataWatches, p, coord.EventDeleted)
	s.fire(s.childWatches, p, coord.EventDeleted)
	s.fire(s.childWatches, parent, coord.EventChildrenChanged)
}

// expire drops every ephemeral node of a session
func (s *Store) expire(id int64) {
	var owned []string
	for p, n := range s.nodes {
		if n.owner == id {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	for _, p := range owned {
		s.remove(p)
	}
	delete(s.sessions, id)
}

// Session is a coord.Client bound to one session of a Store
type Session struct {
	store  *Store
	id     int64
	closed bool
}

var _ coord.Client = (*Session)(nil)

// ID returns the session id, the owner of the session's ephemeral nodes
func (c *Session) ID() int64 { return c.id }

func (c *Session) lock() error {
	c.store.mu.Lock()
	if c.closed {
		c.store.mu.Unlock()
		return coord.ErrClosed
	}
	return nil
}

// Create makes a node, creating missing parents
func (c *Session) Create(p string, data []byte, mode coord.Mode) (string, error) {
	if err := coord.Validate(p); err != nil {
		return "", err
	}
	s := c.store
	if err := c.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	s.ensureParents(p)
	parent := s.nodes[parentOf(p)]
	if parent.owner != 0 {
		return "", fmt.Errorf("coord: ephemeral node %s cannot have children", parentOf(p))
	}
	if mode == coord.EphemeralSequential {
		p = fmt.Sprintf("%s%010d", p, parent.nextSeq)
		parent.nextSeq++
	}
	if _, ok := s.nodes[p]; ok {
		return "", coord.ErrNodeExists
	}
	var owner int64
	if mode != coord.Persistent {
		owner = c.id
	}
	s.insert(p, data, owner)
	return p, nil
}

// Get reads a node's value
func (c *Session) Get(p string) ([]byte, coord.Stat, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return nil, coord.Stat{}, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return nil, coord.Stat{}, coord.ErrNoNode
	}
	return append([]byte(nil), n.data...), n.stat, nil
}

// Set writes a node's value if version matches (or is AnyVersion)
func (c *Session) Set(p string, data []byte, version int32) (coord.Stat, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return coord.Stat{}, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return coord.Stat{}, coord.ErrNoNode
	}
	if version != coord.AnyVersion && version != n.stat.Version {
		return coord.Stat{}, coord.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.stat.Version++
	s.fire(s.dataWatches, p, coord.EventDataChanged)
	return n.stat, nil
}

// Delete removes a childless node if version matches
func (c *Session) Delete(p string, version int32) error {
	s := c.store
	if err := c.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok || p == "/" {
		return coord.ErrNoNode
	}
	if version != coord.AnyVersion && version != n.stat.Version {
		return coord.ErrBadVersion
	}
	if len(n.children) > 0 {
		return coord.ErrNotEmpty
	}
	s.remove(p)
	return nil
}

// Exists reports whether a node exists
func (c *Session) Exists(p string) (bool, coord.Stat, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return false, coord.Stat{}, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return false, coord.Stat{}, nil
	}
	return true, n.stat, nil
}

// ExistsW is Exists plus a one-shot watch on creation, deletion or value change
func (c *Session) ExistsW(p string) (bool, coord.Stat, <-chan coord.Event, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return false, coord.Stat{}, nil, err
	}
	defer s.mu.Unlock()
	ch := s.watch(s.dataWatches, p)
	n, ok := s.nodes[p]
	if !ok {
		return false, coord.Stat{}, ch, nil
	}
	return true, n.stat, ch, nil
}

// Children lists the child names of a node
func (c *Session) Children(p string) ([]string, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.children(p)
}

// ChildrenW is Children plus a one-shot watch on the child set
func (c *Session) ChildrenW(p string) ([]string, <-chan coord.Event, error) {
	s := c.store
	if err := c.lock(); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()
	children, err := s.children(p)
	if err != nil {
		return nil, nil, err
	}
	return children, s.watch(s.childWatches, p), nil
}

func (s *Store) children(p string) ([]string, error) {
	n, ok := s.nodes[p]
	if !ok {
		return nil, coord.ErrNoNode
	}
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Close ends the session, deleting its ephemeral nodes
func (c *Session) Close() error {
	s := c.store
	if err := c.lock(); err != nil {
		return nil
	}
	defer s.mu.Unlock()
	c.closed = true
	s.expire(c.id)
	return nil
}

// String identifies the session in logs
func (c *Session) String() string {
	return strings.Join([]string{"memory-session", fmt.Sprint(c.id)}, "#")
}
