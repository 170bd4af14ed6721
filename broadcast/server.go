// Package broadcast is the one-to-many line transport between brokers (or
// direct publishers) and subscribers. A subscriber connects over TCP and
// sends "SUB <prefix>" lines; every broadcast line starting with one of its
// prefixes is written to it. Delivery is best effort: a subscriber that
// cannot keep up loses lines instead of slowing the sender down.
package broadcast

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/CefBoud/monpubsub/logging"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// Subscription control lines
const (
	SubCommand   = "SUB"
	UnsubCommand = "UNSUB"
)

// MaxLineSize bounds one broadcast line on the subscriber side
const MaxLineSize = 16 << 20

// QueueSize is how many lines may wait for a slow subscriber before lines are dropped
const QueueSize = 1024

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("broadcast: server closed")

type subscriber struct {
	id     uint64
	conn   net.Conn
	out    chan string
	done   chan struct{}
	once   sync.Once
	prefix map[string]struct{} // owned by the reading goroutine
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Server accepts subscribers and fans lines out to them
type Server struct {
	ln      net.Listener
	nextID  atomic.Uint64
	dropped atomic.Uint64

	mu    sync.Mutex
	index *iradix.Tree // prefix -> map[uint64]*subscriber, replaced on every change
	subs  map[uint64]*subscriber

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen binds addr ("host:port", port 0 picks a free one)
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, index: iradix.New(), subs: make(map[uint64]*subscriber)}, nil
}

// Addr is the bound address
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Port is the bound port as a string
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	return port
}

// Serve accepts subscribers until Close
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if s.closed.Load() {
			conn.Close()
			return ErrServerClosed
		}
		sub := &subscriber{
			id:     s.nextID.Add(1),
			conn:   conn,
			out:    make(chan string, QueueSize),
			done:   make(chan struct{}),
			prefix: make(map[string]struct{}),
		}
		s.mu.Lock()
		s.subs[sub.id] = sub
		s.mu.Unlock()
		log.Debug("broadcast subscriber %d connected from %s", sub.id, conn.RemoteAddr())
		s.wg.Add(2)
		go s.write(sub)
		go s.read(sub)
	}
}

func (s *Server) read(sub *subscriber) {
	defer s.wg.Done()
	defer s.remove(sub)
	scanner := bufio.NewScanner(sub.conn)
	for scanner.Scan() {
		cmd, prefix, _ := strings.Cut(scanner.Text(), " ")
		switch cmd {
		case SubCommand:
			if _, ok := sub.prefix[prefix]; !ok {
				sub.prefix[prefix] = struct{}{}
				s.update(prefix, sub, true)
			}
		case UnsubCommand:
			if _, ok := sub.prefix[prefix]; ok {
				delete(sub.prefix, prefix)
				s.update(prefix, sub, false)
			}
		default:
			log.Debug("broadcast subscriber %d sent unknown command %q", sub.id, cmd)
		}
	}
}

func (s *Server) write(sub *subscriber) {
	defer s.wg.Done()
	w := bufio.NewWriter(sub.conn)
	for {
		select {
		case line := <-sub.out:
			if _, err := w.WriteString(line + "\n"); err != nil {
				sub.close()
				return
			}
			// batch whatever else is already queued
			if len(sub.out) == 0 {
				if err := w.Flush(); err != nil {
					sub.close()
					return
				}
			}
		case <-sub.done:
			return
		}
	}
}

// update adds or removes sub under prefix in a new copy of the index
func (s *Server) update(prefix string, sub *subscriber, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := []byte(prefix)
	set := map[uint64]*subscriber{}
	if v, ok := s.index.Get(key); ok {
		for id, other := range v.(map[uint64]*subscriber) {
			set[id] = other
		}
	}
	if add {
		set[sub.id] = sub
	} else {
		delete(set, sub.id)
	}
	if len(set) == 0 {
		s.index, _, _ = s.index.Delete(key)
		return
	}
	s.index, _, _ = s.index.Insert(key, set)
}

func (s *Server) remove(sub *subscriber) {
	sub.close()
	for prefix := range sub.prefix {
		s.update(prefix, sub, false)
	}
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	log.Debug("broadcast subscriber %d disconnected", sub.id)
}

// Broadcast queues line for every subscriber holding a prefix of it and
// returns how many subscribers it was queued for
func (s *Server) Broadcast(line string) int {
	line = strings.ReplaceAll(line, "\n", " ")
	s.mu.Lock()
	index := s.index
	s.mu.Unlock()

	sent := 0
	seen := make(map[uint64]struct{})
	index.Root().WalkPath([]byte(line), func(k []byte, v interface{}) bool {
		for id, sub := range v.(map[uint64]*subscriber) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			select {
			case sub.out <- line:
				sent++
			case <-sub.done:
			default:
				s.dropped.Add(1)
			}
		}
		return false
	})
	return sent
}

// Subscribers is the number of connected subscribers holding at least one prefix
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uint64]struct{})
	s.index.Root().Walk(func(k []byte, v interface{}) bool {
		for id := range v.(map[uint64]*subscriber) {
			seen[id] = struct{}{}
		}
		return false
	})
	return len(seen)
}

// Dropped counts lines lost to slow subscribers
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting and disconnects every subscriber
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	s.wg.Wait()
	return err
}
