package subscriber

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/proxy"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/types"
)

// ViaBroker connects to the broadcast endpoint of every roster replica
type ViaBroker struct {
	opts     Options
	client   coord.Client
	list     []string
	topics   map[string]struct{}
	pool     *registry.Pool
	balancer *registry.Balancer
	in       *inbox

	brokerWatch   <-chan coord.Event
	balancerWatch <-chan coord.Event
}

var _ Subscriber = (*ViaBroker)(nil)

// NewViaBroker waits for a canonical broker, registers with it and connects
// to the replicas it returns
func NewViaBroker(ctx context.Context, client coord.Client, topics []string, opts Options) (*ViaBroker, error) {
	opts = opts.withDefaults()
	pool, err := registry.NewPool(client, 0)
	if err != nil {
		return nil, err
	}
	s := &ViaBroker{
		opts:     opts,
		client:   client,
		topics:   topicSet(topics),
		pool:     pool,
		balancer: registry.NewBalancer(client),
		in:       newInbox(),
	}
	for _, t := range topics {
		if !contains(s.list, t) {
			s.list = append(s.list, t)
		}
	}
	if err := s.register(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Sources is the number of replicas currently connected
func (s *ViaBroker) Sources() int { return s.in.live() }

// register arms both watches, registers with the canonical broker and
// reconciles connections with the replicas it returns
func (s *ViaBroker) register(ctx context.Context) error {
	s.brokerWatch, s.balancerWatch = nil, nil
	if _, err := coord.WaitForValue(ctx, s.client, registry.BrokerPath, s.opts.Wait); err != nil {
		return err
	}
	addr, brokerWatch, err := s.pool.WatchCurrentBroker()
	if err != nil {
		return err
	}
	_, balancerWatch, err := s.balancer.Watch()
	if err != nil {
		return err
	}

	leader := s.opts.proxy(addr)
	defer leader.Close()
	a, err := leader.Register(protocol.RegistrationMessage{
		Role:          types.Subscriber,
		Topics:        s.list,
		EndpointID:    types.EndpointID(s.opts.Host, ""),
		HistoryLength: s.opts.HistoryLength,
	})
	if err != nil {
		return fmt.Errorf("registering with %s: %w", addr, err)
	}

	want := map[string]struct{}{}
	for _, replica := range a.Addresses {
		target, err := s.broadcastAddr(replica)
		if err != nil {
			log.Warn("resolving broadcast endpoint of %s: %v", replica, err)
			continue
		}
		if err := s.in.connect(ctx, target, prefixes(s.topics)); err != nil {
			log.Warn("connecting to replica %s at %s: %v", replica, target, err)
			continue
		}
		want[target] = struct{}{}
	}
	s.in.keep(want)
	if len(want) == 0 {
		return fmt.Errorf("no replica of %v reachable: %w", a.Addresses, proxy.ErrUnreachable)
	}
	s.brokerWatch, s.balancerWatch = brokerWatch, balancerWatch
	log.Debug("subscriber %s connected to %d replicas", s.opts.Host, len(want))
	return nil
}

// broadcastAddr asks a replica for its broadcast port
func (s *ViaBroker) broadcastAddr(replica string) (string, error) {
	host, _, err := net.SplitHostPort(replica)
	if err != nil {
		return "", err
	}
	p := s.opts.proxy(replica)
	defer p.Close()
	port, err := p.GetPubPort()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

// Receive returns the next value from a source whose history length meets
// the requirement; others are dropped. A watch fire re-registers.
func (s *ViaBroker) Receive(ctx context.Context) (Message, error) {
	for {
		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Message{}, ctx.Err()
		case line := <-s.in.lines:
			timer.Stop()
			m, err := ParseDisseminated(line)
			if err != nil {
				log.Debug("dropping malformed line: %v", err)
				continue
			}
			if _, ok := s.topics[m.Topic]; !ok {
				continue
			}
			if !Accept(m, s.opts.HistoryLength) {
				log.Debug("dropping %s from %s: history %d < %d", m.Topic, m.Publisher, m.HistoryLength, s.opts.HistoryLength)
				continue
			}
			return m, nil
		case ev := <-s.brokerWatch:
			timer.Stop()
			s.reregister(ctx, ev)
		case ev := <-s.balancerWatch:
			timer.Stop()
			s.reregister(ctx, ev)
		case <-timer.C:
			if s.brokerWatch == nil || s.in.live() == 0 {
				s.reregister(ctx, coord.Event{})
			}
		}
	}
}

func (s *ViaBroker) reregister(ctx context.Context, ev coord.Event) {
	if ev.Path != "" {
		log.Debug("subscriber %s: %s %v, re-registering", s.opts.Host, ev.Path, ev.Type)
	}
	if err := s.register(ctx); err != nil {
		log.Warn("subscriber %s: re-registering: %v", s.opts.Host, err)
	}
}

// Close ends every connection
func (s *ViaBroker) Close() error {
	s.in.close()
	return nil
}
