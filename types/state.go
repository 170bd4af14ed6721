package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Role of a registering participant
type Role uint8

// Participant roles
const (
	Publisher Role = iota + 1
	Subscriber
)

func (r Role) String() string {
	switch r {
	case Publisher:
		return "PUB"
	case Subscriber:
		return "SUB"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Address is a host and a port. Port is empty for participants that do not listen.
type Address struct {
	Host string
	Port string
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, a.Port)
}

// ParseEndpointID parses an endpoint id of the form "tcp://<ip>:<port>".
// The scheme is optional and a port of "None" (or none at all) is kept as empty.
func ParseEndpointID(id string) (Address, error) {
	rest := id
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Address{}, fmt.Errorf("empty endpoint id %q", id)
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Address{Host: rest}, nil
	}
	host, port := rest[:i], strings.TrimSpace(rest[i+1:])
	if port == "None" {
		port = ""
	}
	if port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Address{}, fmt.Errorf("invalid port in endpoint id %q", id)
		}
	}
	return Address{Host: host, Port: port}, nil
}

// EndpointID encodes a host and port the way participants identify themselves.
func EndpointID(host string, port string) string {
	if port == "" {
		port = "None"
	}
	return fmt.Sprintf("tcp://%s:%s", host, port)
}

// Node is a registered publisher or subscriber, as held by a broker
type Node struct {
	Topics        map[string]struct{}
	Address       Address
	HistoryLength uint32
}

// NewNode builds a Node from its topics, deduplicating them
func NewNode(topics []string, addr Address, historyLength uint32) Node {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return Node{Topics: set, Address: addr, HistoryLength: historyLength}
}

// Interested reports whether the node registered for topic
func (n Node) Interested(topic string) bool {
	_, ok := n.Topics[topic]
	return ok
}

// Assignment is the broker's answer to a registration: one replica address for
// a publisher, every roster replica address for a subscriber.
type Assignment struct {
	Addresses []string
}

// Empty reports whether no replica was assigned
func (a Assignment) Empty() bool { return len(a.Addresses) == 0 }

// LoadSnapshot is what a broker reports about its recent load
type LoadSnapshot struct {
	RequestCount  uint32
	WindowStartMs uint64
	Leader        bool
	RosterSize    uint32
	PoolSize      uint32
}

// WindowStart returns the start of the load window as a time
func (l LoadSnapshot) WindowStart() time.Time {
	return time.UnixMilli(int64(l.WindowStartMs))
}
