// Package cluster runs in-process broker clusters over the in-memory
// coordination store and loopback TCP, for tests.
package cluster

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/CefBoud/monpubsub/broadcast"
	"github.com/CefBoud/monpubsub/broker"
	"github.com/CefBoud/monpubsub/coord/memory"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/types"
	"github.com/stretchr/testify/require"
)

// TestConfig is the configuration every test broker starts from. Ports are
// replaced by the ones actually bound.
var TestConfig = types.Configuration{
	BrokerHost:       "127.0.0.1",
	CoordServers:     []string{"memory"},
	PollInterval:     20 * time.Millisecond,
	RequestTimeout:   2 * time.Second,
	Scaling:          types.DefaultScalingConfig(),
	AddressCacheSize: 16,
	LogLevel:         "DEBUG",
}

// Node is one running broker with its own coordination session
type Node struct {
	Broker  *broker.Broker
	Out     *broadcast.Server
	Session *memory.Session

	cancel context.CancelFunc
	done   chan struct{}
}

// Stop ends the broker and expires its session, as a killed process would
func (n *Node) Stop() {
	n.cancel()
	<-n.done
	n.Out.Close()
	n.Session.Close()
}

// Cluster is a set of brokers sharing one store
type Cluster struct {
	t      *testing.T
	config types.Configuration
	Store  *memory.Store
	Nodes  []*Node
	added  int
}

// New starts n brokers, one at a time so that the first one leads
func New(t *testing.T, n int) *Cluster {
	return NewWithConfig(t, TestConfig, n)
}

// NewWithConfig is New with brokers started from config instead of TestConfig
func NewWithConfig(t *testing.T, config types.Configuration, n int) *Cluster {
	c := &Cluster{t: t, config: config, Store: memory.New()}
	for i := 0; i < n; i++ {
		c.Add()
	}
	t.Cleanup(c.Stop)
	return c
}

// Add starts one more broker and waits until it joined the pool
func (c *Cluster) Add() *Node {
	c.t.Helper()
	c.added++
	cfg := c.config
	cfg.ReplicaName = "r" + strconv.Itoa(c.added)

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.BrokerHost, "0"))
	require.NoError(c.t, err)
	out, err := broadcast.Listen(net.JoinHostPort(cfg.BrokerHost, "0"))
	require.NoError(c.t, err)
	go out.Serve()
	cfg.BrokerPort = uint32(ln.Addr().(*net.TCPAddr).Port)
	cfg.PubPort = uint32(out.Addr().(*net.TCPAddr).Port)

	sess := c.Store.Session()
	b, err := broker.NewBroker(cfg, sess, out)
	require.NoError(c.t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{Broker: b, Out: out, Session: sess, cancel: cancel, done: make(chan struct{})}
	joined := c.poolSize() + 1
	go func() {
		defer close(n.done)
		b.Run(ctx, ln)
	}()
	require.Eventually(c.t, func() bool { return c.poolSize() == joined }, 2*time.Second, 5*time.Millisecond)
	if len(c.Nodes) == 0 {
		require.Eventually(c.t, func() bool { return c.CurrentBroker() == b.Address() }, 2*time.Second, 5*time.Millisecond)
	}
	c.Nodes = append(c.Nodes, n)
	return n
}

// Client is a fresh coordination session on the cluster's store
func (c *Cluster) Client() *memory.Session {
	s := c.Store.Session()
	c.t.Cleanup(func() { s.Close() })
	return s
}

// CurrentBroker is the canonical broker address, "" before a leader published it
func (c *Cluster) CurrentBroker() string {
	s := c.Store.Session()
	defer s.Close()
	data, _, err := s.Get(registry.BrokerPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// Roster is the /BALANCER value
func (c *Cluster) Roster() string {
	s := c.Store.Session()
	defer s.Close()
	data, _, err := s.Get(registry.BalancerPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func (c *Cluster) poolSize() int {
	s := c.Store.Session()
	defer s.Close()
	kids, err := s.Children(registry.BrokerPath)
	if err != nil {
		return 0
	}
	return len(kids)
}

// Stop stops every broker still running
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		select {
		case <-n.done:
		default:
			n.Stop()
		}
	}
}
