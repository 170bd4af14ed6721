package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/proxy"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/types"
	"github.com/hashicorp/go-multierror"
)

// ViaBroker forwards publications to the broker replica it was assigned
type ViaBroker struct {
	opts     Options
	client   coord.Client
	topics   []string
	owner    *registry.Topics
	pool     *registry.Pool
	balancer *registry.Balancer
	history  *History

	replica       *proxy.BrokerProxy
	brokerWatch   <-chan coord.Event
	balancerWatch <-chan coord.Event
}

var _ Publisher = (*ViaBroker)(nil)

// NewViaBroker claims every topic, waits for a canonical broker and registers with it
func NewViaBroker(ctx context.Context, client coord.Client, topics []string, opts Options) (*ViaBroker, error) {
	opts = opts.withDefaults()
	pool, err := registry.NewPool(client, 0)
	if err != nil {
		return nil, err
	}
	p := &ViaBroker{
		opts:     opts,
		client:   client,
		topics:   dedup(topics),
		owner:    registry.NewTopics(client),
		pool:     pool,
		balancer: registry.NewBalancer(client),
		history:  NewHistory(int(opts.HistoryLength)),
	}
	for _, t := range p.topics {
		if err := p.owner.Claim(t, opts.Host, "", opts.HistoryLength); err != nil {
			p.Close()
			return nil, err
		}
	}
	if err := p.register(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Replica is the address of the assigned broker replica
func (p *ViaBroker) Replica() string {
	if p.replica == nil {
		return ""
	}
	return p.replica.Addr()
}

// History returns the values published so far, bounded by the history length
func (p *ViaBroker) History() *History { return p.history }

func (p *ViaBroker) endpointID() string { return types.EndpointID(p.opts.Host, "") }

// register re-arms both watches, then registers with the canonical broker and
// switches to the replica it assigns
func (p *ViaBroker) register(ctx context.Context) error {
	p.brokerWatch, p.balancerWatch = nil, nil
	if _, err := coord.WaitForValue(ctx, p.client, registry.BrokerPath, p.opts.Wait); err != nil {
		return err
	}
	addr, brokerWatch, err := p.pool.WatchCurrentBroker()
	if err != nil {
		return err
	}
	_, balancerWatch, err := p.balancer.Watch()
	if err != nil {
		return err
	}
	if addr == "" {
		return fmt.Errorf("registering: %w", coord.ErrNotYetAvailable)
	}

	leader := p.opts.proxy(addr)
	defer leader.Close()
	a, err := leader.Register(protocol.RegistrationMessage{
		Role:          types.Publisher,
		Topics:        p.topics,
		EndpointID:    p.endpointID(),
		HistoryLength: p.opts.HistoryLength,
	})
	if err != nil {
		return fmt.Errorf("registering with %s: %w", addr, err)
	}
	if a.Empty() {
		return fmt.Errorf("registering with %s: %w", addr, protocol.ErrBrokerNotAvailable)
	}
	assigned := a.Addresses[0]
	if p.replica == nil || p.replica.Addr() != assigned {
		if p.replica != nil {
			p.replica.Close()
		}
		p.replica = p.opts.proxy(assigned)
	}
	p.brokerWatch, p.balancerWatch = brokerWatch, balancerWatch
	log.Debug("publisher %s assigned to %s by %s", p.opts.Host, assigned, addr)
	return nil
}

// Publish forwards value on topic. A topology change seen since the last call
// re-registers first; an unreachable replica is retried once after re-registering.
func (p *ViaBroker) Publish(topic, value string) error {
	ctx := context.Background()
	brokerMoved := fired(p.brokerWatch)
	rosterMoved := fired(p.balancerWatch)
	if brokerMoved || rosterMoved || p.replica == nil {
		if err := p.register(ctx); err != nil {
			return err
		}
	}

	msg := protocol.DisseminationMessage{
		Topic:            topic,
		PublisherAddress: p.endpointID(),
		HistoryLength:    p.opts.HistoryLength,
		Value:            value,
	}
	ack, err := p.replica.Disseminate(msg)
	if errors.Is(err, proxy.ErrUnreachable) {
		log.Info("publisher %s: replica %s unreachable, re-registering", p.opts.Host, p.replica.Addr())
		if err := p.register(ctx); err != nil {
			return err
		}
		ack, err = p.replica.Disseminate(msg)
	}
	if err != nil {
		return err
	}
	if ack == protocol.AckDropped {
		return fmt.Errorf("%w: %s", ErrNotOwner, topic)
	}
	p.history.Add(topic, value)
	return nil
}

// Close releases the claims and the replica connection
func (p *ViaBroker) Close() error {
	var result error
	for _, t := range p.topics {
		if err := p.owner.Release(t, p.opts.Host); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if p.replica != nil {
		if err := p.replica.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
