// Package zookeeper implements coord.Client over a ZooKeeper ensemble.
package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/go-zookeeper/zk"
)

// Client is a ZooKeeper session
type Client struct {
	conn   *zk.Conn
	events <-chan zk.Event
	acl    []zk.ACL
}

var _ coord.Client = (*Client)(nil)

// Connect opens a session and waits until it is established or timeout passes
func Connect(servers []string, sessionTimeout time.Duration) (*Client, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(log.StandardLogger()))
	if err != nil {
		return nil, fmt.Errorf("connecting to zookeeper %v: %w", servers, err)
	}
	c := &Client{conn: conn, events: events, acl: zk.WorldACL(zk.PermAll)}
	timer := time.NewTimer(sessionTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, coord.ErrClosed
			}
			if ev.State == zk.StateHasSession {
				log.Info("zookeeper session established with %s", conn.Server())
				go c.drain()
				return c, nil
			}
		case <-timer.C:
			conn.Close()
			return nil, fmt.Errorf("zookeeper %v: no session after %v: %w", servers, sessionTimeout, coord.ErrNotYetAvailable)
		}
	}
}

// drain keeps the session event channel from blocking the connection
func (c *Client) drain() {
	for ev := range c.events {
		if ev.State == zk.StateExpired {
			log.Warn("zookeeper session expired")
		}
		log.Debug("zookeeper session event %v", ev.State)
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return coord.ErrNoNode
	case errors.Is(err, zk.ErrNodeExists):
		return coord.ErrNodeExists
	case errors.Is(err, zk.ErrBadVersion):
		return coord.ErrBadVersion
	case errors.Is(err, zk.ErrNotEmpty):
		return coord.ErrNotEmpty
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed):
		return coord.ErrClosed
	}
	return err
}

func mapStat(s *zk.Stat) coord.Stat {
	if s == nil {
		return coord.Stat{}
	}
	return coord.Stat{
		Version:     s.Version,
		CreateID:    s.Czxid,
		Ephemeral:   s.EphemeralOwner != 0,
		NumChildren: s.NumChildren,
	}
}

func mapEventType(t zk.EventType) coord.EventType {
	switch t {
	case zk.EventNodeCreated:
		return coord.EventCreated
	case zk.EventNodeDeleted:
		return coord.EventDeleted
	case zk.EventNodeDataChanged:
		return coord.EventDataChanged
	case zk.EventNodeChildrenChanged:
		return coord.EventChildrenChanged
	default:
		return coord.EventNotWatching
	}
}

func forward(in <-chan zk.Event) <-chan coord.Event {
	out := make(chan coord.Event, 1)
	go func() {
		defer close(out)
		ev, ok := <-in
		if !ok {
			out <- coord.Event{Type: coord.EventNotWatching}
			return
		}
		out <- coord.Event{Type: mapEventType(ev.Type), Path: ev.Path, Err: mapErr(ev.Err)}
	}()
	return out
}

// ensureParents creates every missing ancestor of p
func (c *Client) ensureParents(p string) error {
	parts := strings.Split(strings.TrimPrefix(coord.Parent(p), "/"), "/")
	cur := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		cur += "/" + part
		_, err := c.conn.Create(cur, nil, 0, c.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return mapErr(err)
		}
	}
	return nil
}

// Create makes a node, creating missing parents
func (c *Client) Create(p string, data []byte, mode coord.Mode) (string, error) {
	if err := coord.Validate(p); err != nil {
		return "", err
	}
	if err := c.ensureParents(p); err != nil {
		return "", err
	}
	var flags int32
	switch mode {
	case coord.Ephemeral:
		flags = zk.FlagEphemeral
	case coord.EphemeralSequential:
		flags = zk.FlagEphemeral | zk.FlagSequence
	}
	created, err := c.conn.Create(p, data, flags, c.acl)
	return created, mapErr(err)
}

func (c *Client) Get(p string) ([]byte, coord.Stat, error) {
	data, s, err := c.conn.Get(p)
	return data, mapStat(s), mapErr(err)
}

func (c *Client) Set(p string, data []byte, version int32) (coord.Stat, error) {
	s, err := c.conn.Set(p, data, version)
	return mapStat(s), mapErr(err)
}

func (c *Client) Delete(p string, version int32) error {
	return mapErr(c.conn.Delete(p, version))
}

func (c *Client) Exists(p string) (bool, coord.Stat, error) {
	ok, s, err := c.conn.Exists(p)
	return ok, mapStat(s), mapErr(err)
}

func (c *Client) Children(p string) ([]string, error) {
	children, _, err := c.conn.Children(p)
	return children, mapErr(err)
}

func (c *Client) ExistsW(p string) (bool, coord.Stat, <-chan coord.Event, error) {
	ok, s, ch, err := c.conn.ExistsW(p)
	if err != nil {
		return false, coord.Stat{}, nil, mapErr(err)
	}
	return ok, mapStat(s), forward(ch), nil
}

func (c *Client) ChildrenW(p string) ([]string, <-chan coord.Event, error) {
	children, _, ch, err := c.conn.ChildrenW(p)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	return children, forward(ch), nil
}

// Close ends the session. ZooKeeper removes its ephemeral nodes.
func (c *Client) Close() error {
	c.conn.Close()
	return nil
}
