// Package proxy is the broker client used by publishers and subscribers: a
// synchronous stub with one bounded wait per call.
//
// A broker that does not answer in time is reported as ErrUnreachable along
// with an empty result. Callers re-read the canonical broker address and retry.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/CefBoud/monpubsub/compress"
	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
	"github.com/google/uuid"
)

// DefaultTimeout bounds every call
const DefaultTimeout = 15 * time.Second

// ErrUnreachable is returned, with an empty result, when the broker did not answer in time
var ErrUnreachable = errors.New("proxy: broker unreachable")

// Option configures a BrokerProxy
type Option func(*BrokerProxy)

// WithTimeout sets the per-call wait
func WithTimeout(d time.Duration) Option {
	return func(p *BrokerProxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCodec compresses request bodies
func WithCodec(c compress.CompressionType) Option {
	return func(p *BrokerProxy) { p.codec = c }
}

// WithClientID overrides the generated client id
func WithClientID(id string) Option {
	return func(p *BrokerProxy) { p.clientID = id }
}

// BrokerProxy talks to one broker. It dials lazily and redials after any failure.
type BrokerProxy struct {
	addr     string
	timeout  time.Duration
	codec    compress.CompressionType
	clientID string

	mu     sync.Mutex
	conn   net.Conn
	corrID uint32
}

// New returns a proxy for the broker at addr ("ip:port")
func New(addr string, opts ...Option) *BrokerProxy {
	p := &BrokerProxy{
		addr:     addr,
		timeout:  DefaultTimeout,
		clientID: uuid.NewString(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Addr is the broker address
func (p *BrokerProxy) Addr() string { return p.addr }

// ClientID is sent in every request header
func (p *BrokerProxy) ClientID() string { return p.clientID }

// Register sends a registration and returns the broker's assignment
func (p *BrokerProxy) Register(msg protocol.RegistrationMessage) (types.Assignment, error) {
	body, err := p.call(msg)
	if err != nil {
		return types.Assignment{}, err
	}
	a, err := protocol.DecodeAssignment(body)
	if err != nil {
		return types.Assignment{}, fmt.Errorf("decode assignment from %s: %w", p.addr, err)
	}
	return a, nil
}

// Disseminate forwards a publication and returns the broker's ack
func (p *BrokerProxy) Disseminate(msg protocol.DisseminationMessage) (string, error) {
	body, err := p.call(msg)
	if err != nil {
		return "", err
	}
	return protocol.DecodeString(body)
}

// GetPubPort asks for the broker's broadcast port
func (p *BrokerProxy) GetPubPort() (string, error) {
	body, err := p.call(protocol.ControlCommand{Command: protocol.PubPortCommand})
	if err != nil {
		return "", err
	}
	return protocol.DecodeString(body)
}

// GetLoad asks for the broker's load snapshot
func (p *BrokerProxy) GetLoad() (types.LoadSnapshot, error) {
	body, err := p.call(protocol.ControlCommand{Command: protocol.LoadCommand})
	if err != nil {
		return types.LoadSnapshot{}, err
	}
	return protocol.DecodeLoad(body)
}

// Close drops the connection. The proxy stays usable and redials on the next call.
func (p *BrokerProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drop()
}

func (p *BrokerProxy) drop() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// call performs one round trip. Transport failures of any kind become
// ErrUnreachable; a broker error code is returned as its protocol.Error.
func (p *BrokerProxy) call(msg protocol.Message) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.timeout)
	if p.conn == nil {
		conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
		if err != nil {
			log.Warn("broker %s unreachable: %v", p.addr, err)
			return nil, ErrUnreachable
		}
		p.conn = conn
	}

	p.corrID++
	corrID := p.corrID
	frame, err := protocol.EncodeRequest(msg, corrID, p.clientID, p.codec)
	if err != nil {
		return nil, err
	}

	if err := p.conn.SetDeadline(deadline); err != nil {
		return nil, p.unreachable(err)
	}
	if _, err := p.conn.Write(frame); err != nil {
		return nil, p.unreachable(err)
	}
	buf, err := serde.ReadFrame(p.conn)
	if err != nil {
		return nil, p.unreachable(err)
	}
	resp, err := serde.ParseResponseHeader(buf)
	if err != nil {
		return nil, p.unreachable(err)
	}
	if resp.CorrelationID != corrID {
		return nil, p.unreachable(fmt.Errorf("correlation id %d, expected %d", resp.CorrelationID, corrID))
	}
	if resp.ErrorCode != protocol.ErrNone.Code {
		return nil, protocol.ErrorFromCode(resp.ErrorCode)
	}
	return resp.Body, nil
}

func (p *BrokerProxy) unreachable(cause error) error {
	log.Warn("broker %s unreachable: %v", p.addr, cause)
	p.drop()
	return ErrUnreachable
}
