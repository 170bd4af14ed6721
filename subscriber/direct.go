package subscriber

import (
	"context"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/registry"
)

// Direct connects to every publisher advertising one of its topics with a
// sufficient history length
type Direct struct {
	opts    Options
	topics  map[string]struct{}
	adverts *registry.Topics
	in      *inbox

	sources map[string]map[string]struct{} // topic -> publisher addresses
	armed   map[string]bool
	changed chan string
}

var _ Subscriber = (*Direct)(nil)

// NewDirect waits until each topic has at least one advert, then connects
func NewDirect(ctx context.Context, client coord.Client, topics []string, opts Options) (*Direct, error) {
	opts = opts.withDefaults()
	s := &Direct{
		opts:    opts,
		topics:  topicSet(topics),
		adverts: registry.NewTopics(client),
		in:      newInbox(),
		sources: map[string]map[string]struct{}{},
		armed:   map[string]bool{},
		changed: make(chan string, len(topics)),
	}
	for t := range s.topics {
		path, err := registry.TopicPath(t)
		if err != nil {
			s.Close()
			return nil, err
		}
		if _, err := coord.WaitForChildren(ctx, client, path, opts.Wait); err != nil {
			s.Close()
			return nil, err
		}
	}
	for t := range s.topics {
		if err := s.resolve(ctx, t); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Sources is the number of publishers currently connected
func (s *Direct) Sources() int { return s.in.live() }

// resolve re-reads topic's adverts, arming its watch if none is armed, and
// reconciles connections
func (s *Direct) resolve(ctx context.Context, topic string) error {
	var adverts []registry.Advert
	if s.armed[topic] {
		var err error
		if adverts, err = s.adverts.Adverts(topic); err != nil {
			return err
		}
	} else {
		var watch <-chan coord.Event
		var err error
		if adverts, watch, err = s.adverts.WatchAdverts(topic); err != nil {
			return err
		}
		s.armed[topic] = true
		go func() {
			select {
			case <-watch:
				select {
				case s.changed <- topic:
				case <-s.in.done:
				}
			case <-s.in.done:
			}
		}()
	}

	want := map[string]struct{}{}
	for _, a := range adverts {
		if a.Port == "" {
			continue
		}
		if a.HistoryLength < s.opts.HistoryLength {
			log.Debug("skipping publisher %s on %s: history %d < %d", a.Publisher, topic, a.HistoryLength, s.opts.HistoryLength)
			continue
		}
		addr := a.Address().String()
		if err := s.in.connect(ctx, addr, prefixes(s.topics)); err != nil {
			log.Warn("connecting to publisher %s: %v", addr, err)
			continue
		}
		want[addr] = struct{}{}
	}
	s.sources[topic] = want
	s.in.keep(s.wanted())
	return nil
}

// Receive returns the next value. Each cycle waits at most one poll interval;
// a quiet cycle re-resolves topics whose watch could not be armed or whose
// connections ended.
func (s *Direct) Receive(ctx context.Context) (Message, error) {
	for {
		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Message{}, ctx.Err()
		case line := <-s.in.lines:
			timer.Stop()
			m, err := ParseDirect(line)
			if err != nil {
				continue
			}
			if _, ok := s.topics[m.Topic]; !ok {
				continue
			}
			return m, nil
		case topic := <-s.changed:
			timer.Stop()
			s.armed[topic] = false
			if err := s.resolve(ctx, topic); err != nil {
				log.Warn("re-resolving publishers of %s: %v", topic, err)
			}
		case <-timer.C:
			s.refresh(ctx)
		}
	}
}

func (s *Direct) refresh(ctx context.Context) {
	stale := s.in.live() < len(s.wanted())
	for t := range s.topics {
		if s.armed[t] && !stale {
			continue
		}
		if err := s.resolve(ctx, t); err != nil {
			log.Warn("re-resolving publishers of %s: %v", t, err)
		}
	}
}

// wanted is the set of publisher addresses across all topics
func (s *Direct) wanted() map[string]struct{} {
	all := map[string]struct{}{}
	for _, addrs := range s.sources {
		for a := range addrs {
			all[a] = struct{}{}
		}
	}
	return all
}

// Close ends every connection
func (s *Direct) Close() error {
	s.in.close()
	return nil
}
