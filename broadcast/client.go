package broadcast

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
)

// Subscription is a subscriber-side connection to a broadcast Server
type Subscription struct {
	addr  string
	conn  net.Conn
	lines chan string
	done  chan struct{}
	ended chan struct{}
	err   error
	mu    sync.Mutex
	once  sync.Once
}

// Dial connects to a broadcast server and subscribes to prefixes. No prefix
// subscribes to nothing; the empty prefix subscribes to everything.
func Dial(ctx context.Context, addr string, prefixes ...string) (*Subscription, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Subscription{addr: addr, conn: conn, lines: make(chan string, QueueSize), done: make(chan struct{}), ended: make(chan struct{})}
	for _, p := range prefixes {
		if err := s.Subscribe(p); err != nil {
			conn.Close()
			return nil, err
		}
	}
	go s.read()
	return s, nil
}

func (s *Subscription) read() {
	defer close(s.lines)
	defer close(s.ended)
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		}
	}
	s.mu.Lock()
	s.err = scanner.Err()
	s.mu.Unlock()
}

func (s *Subscription) send(cmd, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.conn, "%s %s\n", cmd, prefix)
	return err
}

// Subscribe adds a prefix
func (s *Subscription) Subscribe(prefix string) error {
	return s.send(SubCommand, prefix)
}

// Unsubscribe removes a prefix
func (s *Subscription) Unsubscribe(prefix string) error {
	return s.send(UnsubCommand, prefix)
}

// Lines delivers received lines; it is closed when the connection ends
func (s *Subscription) Lines() <-chan string {
	return s.lines
}

// Done is closed once the connection ended, even if lines are still queued
func (s *Subscription) Done() <-chan struct{} {
	return s.ended
}

// Err is the read error that ended the subscription, if any
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Addr is the server address this subscription dialed
func (s *Subscription) Addr() string {
	return s.addr
}

// Close ends the subscription
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
