// Package subscriber consumes topic-tagged values, either straight from the
// publishers that advertise a topic (Direct) or from every broker replica in
// the roster (ViaBroker).
//
// A Subscriber is used from a single goroutine.
package subscriber

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CefBoud/monpubsub/broadcast"
	"github.com/CefBoud/monpubsub/compress"
	"github.com/CefBoud/monpubsub/coord"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/proxy"
	"github.com/CefBoud/monpubsub/utils"
)

// Message is one received publication. Publisher and HistoryLength are only
// carried by broker-mediated lines.
type Message struct {
	Topic         string
	Publisher     string
	HistoryLength uint32
	Value         string
}

// ParseDirect parses a "<topic> <value>" line
func ParseDirect(line string) (Message, error) {
	topic, value, _ := strings.Cut(line, " ")
	if topic == "" {
		return Message{}, fmt.Errorf("empty line")
	}
	return Message{Topic: topic, Value: value}, nil
}

// ParseDisseminated parses a "<topic> <publisher_address> <history_length> [<value>]" line
func ParseDisseminated(line string) (Message, error) {
	fields := strings.SplitN(line, " ", 4)
	if len(fields) < 3 {
		return Message{}, fmt.Errorf("malformed line %q", line)
	}
	h, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Message{}, fmt.Errorf("malformed history length in %q", line)
	}
	m := Message{Topic: fields[0], Publisher: fields[1], HistoryLength: uint32(h)}
	if len(fields) == 4 {
		m.Value = fields[3]
	}
	return m, nil
}

// Accept reports whether a message's history length meets the requirement
func Accept(m Message, required uint32) bool {
	return m.HistoryLength >= required
}

// Subscriber receives values on the topics it was created for
type Subscriber interface {
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Options configure both subscriber variants
type Options struct {
	// Host is the ip the subscriber identifies itself with, LocalIP by default
	Host string
	// HistoryLength is the minimum history length a source must offer
	HistoryLength uint32
	// PollInterval bounds one Receive cycle
	PollInterval time.Duration

	RequestTimeout time.Duration
	Codec          compress.CompressionType
	Wait           coord.WaitOptions
}

// DefaultOptions returns Options with every field set to its default
func DefaultOptions() Options {
	return Options{
		Host:           utils.LocalIP(),
		HistoryLength:  1,
		PollInterval:   time.Second,
		RequestTimeout: proxy.DefaultTimeout,
		Wait:           coord.DefaultWaitOptions,
	}
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = utils.LocalIP()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = proxy.DefaultTimeout
	}
	if o.Wait == (coord.WaitOptions{}) {
		o.Wait = coord.DefaultWaitOptions
	}
	return o
}

func (o Options) proxy(addr string) *proxy.BrokerProxy {
	return proxy.New(addr, proxy.WithTimeout(o.RequestTimeout), proxy.WithCodec(o.Codec))
}

func topicSet(topics []string) map[string]struct{} {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return set
}

// prefixes subscribes to whole topics: "AAPL " does not match "AAPLX ..."
func prefixes(topics map[string]struct{}) []string {
	out := make([]string, 0, len(topics))
	for t := range topics {
		out = append(out, t+" ")
	}
	return out
}

// inbox fans lines from many broadcast connections into one channel
type inbox struct {
	lines chan string
	done  chan struct{}
	once  sync.Once
	conns map[string]*broadcast.Subscription
}

func newInbox() *inbox {
	return &inbox{
		lines: make(chan string, broadcast.QueueSize),
		done:  make(chan struct{}),
		conns: map[string]*broadcast.Subscription{},
	}
}

// connect dials addr unless already connected
func (in *inbox) connect(ctx context.Context, addr string, prefixes []string) error {
	if _, ok := in.conns[addr]; ok {
		return nil
	}
	sub, err := broadcast.Dial(ctx, addr, prefixes...)
	if err != nil {
		return err
	}
	in.conns[addr] = sub
	go func() {
		for line := range sub.Lines() {
			select {
			case in.lines <- line:
			case <-in.done:
				return
			}
		}
	}()
	log.Debug("subscribed to %s for %v", addr, prefixes)
	return nil
}

// keep closes every connection whose address is not in want
func (in *inbox) keep(want map[string]struct{}) {
	for addr, sub := range in.conns {
		if _, ok := want[addr]; !ok {
			sub.Close()
			delete(in.conns, addr)
			log.Debug("unsubscribed from %s", addr)
		}
	}
}

// live is the number of connections that have not ended
func (in *inbox) live() int {
	n := 0
	for addr, sub := range in.conns {
		select {
		case <-sub.Done():
			delete(in.conns, addr)
		default:
			n++
		}
	}
	return n
}

func (in *inbox) close() {
	in.once.Do(func() {
		close(in.done)
		in.keep(nil)
	})
}
