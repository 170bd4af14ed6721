package publisher

import (
	"fmt"
	"net"
	"strconv"

	"github.com/CefBoud/monpubsub/broadcast"
	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/proxy"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/types"
	"github.com/hashicorp/go-multierror"
)

// Direct broadcasts "<topic> <value>" lines from its own endpoint
type Direct struct {
	opts    Options
	topics  []string
	owner   *registry.Topics
	pool    *registry.Pool
	out     *broadcast.Server
	history *History

	broker      *proxy.BrokerProxy
	brokerWatch <-chan coord.Event
}

var _ Publisher = (*Direct)(nil)

// NewDirect binds the broadcast endpoint, claims every topic and registers
// with the canonical broker if there is one
func NewDirect(client coord.Client, topics []string, opts Options) (*Direct, error) {
	opts = opts.withDefaults()
	pool, err := registry.NewPool(client, 0)
	if err != nil {
		return nil, err
	}
	out, err := broadcast.Listen(net.JoinHostPort(opts.Host, strconv.Itoa(int(opts.Port))))
	if err != nil {
		return nil, err
	}
	go func() {
		if err := out.Serve(); err != nil && err != broadcast.ErrServerClosed {
			log.Error("publisher broadcast endpoint: %v", err)
		}
	}()

	p := &Direct{
		opts:    opts,
		topics:  dedup(topics),
		owner:   registry.NewTopics(client),
		pool:    pool,
		out:     out,
		history: NewHistory(int(opts.HistoryLength)),
	}
	for _, t := range p.topics {
		if err := p.owner.Claim(t, opts.Host, out.Port(), opts.HistoryLength); err != nil {
			p.Close()
			return nil, err
		}
	}
	p.register()
	return p, nil
}

// Addr is the broadcast endpoint subscribers connect to
func (p *Direct) Addr() string { return net.JoinHostPort(p.opts.Host, p.out.Port()) }

// Subscribers is the number of connected subscribers
func (p *Direct) Subscribers() int { return p.out.Subscribers() }

// History returns the values published so far, bounded by the history length
func (p *Direct) History() *History { return p.history }

// register re-arms the /BROKER watch and registers with the broker it names.
// Failures are logged: a Direct publisher does not need the broker to publish.
func (p *Direct) register() {
	p.brokerWatch = nil
	addr, watch, err := p.pool.WatchCurrentBroker()
	if err != nil {
		log.Warn("publisher %s: watching current broker: %v", p.opts.Host, err)
		return
	}
	p.brokerWatch = watch
	if addr == "" {
		return
	}
	if p.broker == nil || p.broker.Addr() != addr {
		if p.broker != nil {
			p.broker.Close()
		}
		p.broker = p.opts.proxy(addr)
	}
	a, err := p.broker.Register(protocol.RegistrationMessage{
		Role:          types.Publisher,
		Topics:        p.topics,
		EndpointID:    types.EndpointID(p.opts.Host, p.out.Port()),
		HistoryLength: p.opts.HistoryLength,
	})
	if err != nil {
		log.Warn("publisher %s: registering with %s: %v", p.opts.Host, addr, err)
		return
	}
	log.Debug("publisher %s registered with %s, assigned %v", p.opts.Host, addr, a.Addresses)
}

// Publish broadcasts value on topic if this publisher owns it
func (p *Direct) Publish(topic, value string) error {
	if fired(p.brokerWatch) {
		p.register()
	}
	owner, err := p.owner.IsOwner(topic, p.opts.Host)
	if err != nil {
		return err
	}
	if !owner {
		log.Info("publisher %s is not the owner of %s", p.opts.Host, topic)
		return fmt.Errorf("%w: %s", ErrNotOwner, topic)
	}
	p.out.Broadcast(topic + " " + value)
	p.history.Add(topic, value)
	return nil
}

// Close releases the claims and the endpoint
func (p *Direct) Close() error {
	var result error
	for _, t := range p.topics {
		if err := p.owner.Release(t, p.opts.Host); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := p.out.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if p.broker != nil {
		if err := p.broker.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
