package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	log "github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/serde"
	"golang.org/x/sync/errgroup"
)

type result struct {
	body []byte
	code protocol.Error
}

// call is a decoded request handed from a connection goroutine to the loop
type call struct {
	msg   protocol.Message
	reply chan result
}

// Run bootstraps the broker and serves RPCs from ln until ctx is done or Shutdown is called
func (b *Broker) Run(ctx context.Context, ln net.Listener) error {
	if err := b.Bootstrap(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.loop(ctx)
	})
	g.Go(func() error {
		return b.serve(ctx, ln)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-b.ShutDownSignal:
		}
		return ln.Close()
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, errShutdown) {
		return nil
	}
	return err
}

var errShutdown = errors.New("broker shut down")

// Shutdown stops Run
func (b *Broker) Shutdown() {
	select {
	case <-b.ShutDownSignal:
	default:
		close(b.ShutDownSignal)
		log.Info("Broker Shut down...")
	}
}

// loop owns all broker state
func (b *Broker) loop(ctx context.Context) error {
	interval := b.Config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.ShutDownSignal:
			return errShutdown
		case c := <-b.calls:
			body, code := b.HandleRequest(c.msg)
			c.reply <- result{body: body, code: code}
		case ev := <-b.poolWatch:
			log.Debug("broker pool watch fired: %v", ev.Type)
			b.evaluateLeadership()
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broker) serve(ctx context.Context, ln net.Listener) error {
	log.Info("Server is listening on %s...", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-b.ShutDownSignal:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go b.HandleConnection(ctx, conn)
	}
}

// HandleConnection processes incoming requests from a client connection
func (b *Broker) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connectionAddr := conn.RemoteAddr().String()
	log.Debug("Connection established with %s", connectionAddr)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-b.ShutDownSignal:
		case <-done:
		}
		conn.Close()
	}()

	for {
		buffer, err := serde.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error("Error reading from connection: %v", err)
			}
			break
		}
		req, err := serde.ParseHeader(buffer, connectionAddr)
		if err != nil {
			log.Error("Malformed request from %s: %v", connectionAddr, err)
			break
		}
		log.Debug("Received RequestAPIKey: %v | RequestAPIVersion: %v | CorrelationID: %v | ClientID: %v", protocol.APIName(req.RequestAPIKey), req.RequestAPIVersion, req.CorrelationID, req.ClientID)

		var res result
		msg, code := protocol.DecodeRequest(req)
		if code != protocol.ErrNone {
			res = result{code: code}
		} else {
			c := call{msg: msg, reply: make(chan result, 1)}
			select {
			case b.calls <- c:
				res = <-c.reply
			case <-ctx.Done():
				return
			case <-b.ShutDownSignal:
				return
			}
		}

		if _, err := conn.Write(protocol.EncodeResponse(req.CorrelationID, res.code, res.body)); err != nil {
			log.Error("Error writing to connection: %v", err)
			break
		}
	}
	log.Debug("Connection with %s closed.", connectionAddr)
}
