// Package coord defines the contract of the coordination store the broker
// subsystem relies on: a hierarchical namespace of nodes holding opaque
// values, with plain, ephemeral and ephemeral-sequential creation, and
// one-shot watches that fire once on the next change of a node's value or
// child set.
//
// Watches are never re-armed implicitly. A caller that wants to keep
// observing a node must register a new watch after every fire.
package coord

import (
	"errors"
	"path"
	"strings"
)

// Mode selects how a node is created
type Mode int

// Creation modes
const (
	Persistent Mode = iota
	Ephemeral
	EphemeralSequential
)

// AnyVersion matches every node version in Set and Delete
const AnyVersion int32 = -1

// Errors returned by Client implementations
var (
	ErrNoNode          = errors.New("coord: node does not exist")
	ErrNodeExists      = errors.New("coord: node already exists")
	ErrBadVersion      = errors.New("coord: version conflict")
	ErrNotEmpty        = errors.New("coord: node has children")
	ErrClosed          = errors.New("coord: client closed")
	ErrNotYetAvailable = errors.New("coord: value not yet available")
)

// Stat is the metadata of a node
type Stat struct {
	Version     int32 // bumped on every value write
	CreateID    int64 // store-wide creation order, strictly increasing
	Ephemeral   bool
	NumChildren int32
}

// EventType is the kind of change a watch reports
type EventType int

// Watch event types
const (
	EventCreated EventType = iota + 1
	EventDeleted
	EventDataChanged
	EventChildrenChanged
	EventNotWatching // the session ended before the watch fired
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventDataChanged:
		return "data-changed"
	case EventChildrenChanged:
		return "children-changed"
	case EventNotWatching:
		return "not-watching"
	default:
		return "unknown"
	}
}

// Event is delivered once on a watch channel, which is then never written again
type Event struct {
	Type EventType
	Path string
	Err  error
}

// Client is a session with the coordination store. Ephemeral nodes created
// through a Client are removed when it is closed.
type Client interface {
	// Create makes a node, creating missing parents as persistent nodes.
	// It returns the actual path, which carries the sequence suffix for
	// EphemeralSequential nodes.
	Create(path string, data []byte, mode Mode) (string, error)
	Get(path string) ([]byte, Stat, error)
	Set(path string, data []byte, version int32) (Stat, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, Stat, error)
	// Children returns the child names of path, in no particular order.
	Children(path string) ([]string, error)

	// ExistsW arms a one-shot watch firing on creation, deletion or value change of path.
	ExistsW(path string) (bool, Stat, <-chan Event, error)
	// ChildrenW arms a one-shot watch firing when the child set of path changes.
	ChildrenW(path string) ([]string, <-chan Event, error)

	Close() error
}

// Join builds a node path from its elements
func Join(elem ...string) string {
	p := path.Join(append([]string{"/"}, elem...)...)
	return p
}

// Base returns the last element of a node path
func Base(p string) string {
	return path.Base(p)
}

// Parent returns the parent of a node path ("/" for top level nodes)
func Parent(p string) string {
	return path.Dir(p)
}

// Validate checks that p is an absolute, clean node path
func Validate(p string) error {
	if p == "" || p[0] != '/' {
		return errors.New("coord: path must be absolute")
	}
	if p != "/" && (strings.HasSuffix(p, "/") || path.Clean(p) != p) {
		return errors.New("coord: path must be clean")
	}
	return nil
}

// GetValue reads a node's value as a string. A missing node yields "" and no error.
func GetValue(c Client, p string) (string, error) {
	data, _, err := c.Get(p)
	if errors.Is(err, ErrNoNode) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetValue writes a node's value, creating the node as persistent if missing
func SetValue(c Client, p string, value string) error {
	_, err := c.Set(p, []byte(value), AnyVersion)
	if errors.Is(err, ErrNoNode) {
		_, err = c.Create(p, []byte(value), Persistent)
		if errors.Is(err, ErrNodeExists) {
			// lost a creation race, the value still has to land
			_, err = c.Set(p, []byte(value), AnyVersion)
		}
	}
	return err
}

// ChildrenOrEmpty lists children, treating a missing parent as having none
func ChildrenOrEmpty(c Client, p string) ([]string, error) {
	children, err := c.Children(p)
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	return children, err
}
