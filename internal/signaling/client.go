// Package signaling is the peer side of the relay protocol. A Client owns
// the WebSocket to the relay and runs the single dispatch loop that feeds a
// negotiation.Machine with relay envelopes and engine events.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/util"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	eventBufferSize  = 256
)

// ErrHandshake is returned by Connect when the relay does not acknowledge
// the hello.
var ErrHandshake = errors.New("hello handshake failed")

// Client is one peer's connection to the relay.
type Client struct {
	cfg  config.Peer
	conn *websocket.Conn

	events  chan negotiation.Event
	done    chan struct{}
	stopped sync.Once

	machine  atomic.Pointer[negotiation.Machine]
	writeErr error // set by send, read by the dispatch loop only
}

// NewClient prepares a client for cfg. Nothing is dialed until Connect.
func NewClient(cfg config.Peer) *Client {
	return &Client{
		cfg:    cfg,
		events: make(chan negotiation.Event, eventBufferSize),
		done:   make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect dials the relay and completes the hello / hello-ok handshake.
func (c *Client) Connect(ctx context.Context) error {
	url, err := c.cfg.DialURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	c.conn = conn

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return err
	}

	util.LogInfo("[SIG] registered as %s on %s", c.cfg.LocalID, url)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	data, err := protocol.Encode(protocol.Hello(c.cfg.LocalID))
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: send hello: %v", ErrHandshake, err)
	}

	c.conn.SetReadDeadline(deadline)
	_, data, err = c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if env.Type != protocol.TypeHelloOK {
		return fmt.Errorf("%w: relay answered %s %s", ErrHandshake, env.Type, env.Reason)
	}

	c.conn.SetReadDeadline(time.Time{})
	c.conn.SetWriteDeadline(time.Time{})
	return nil
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.stop()
	return nil
}

func (c *Client) stop() {
	c.stopped.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
}

// Phase reports the negotiation phase, or Idle before Run has started.
func (c *Client) Phase() negotiation.Phase {
	if m := c.machine.Load(); m != nil {
		return m.Phase()
	}
	return negotiation.Idle
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// Emit queues an engine event for the dispatch loop. It is safe to call from
// any goroutine; once the client has stopped the event is dropped.
func (c *Client) Emit(ev negotiation.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run drives negotiation with the configured remote peer until ctx is
// cancelled, the relay connection fails, or the relay sends something
// undecodable. Only this loop writes to the socket.
func (c *Client) Run(ctx context.Context, engine negotiation.Engine, output negotiation.Output) error {
	defer c.stop()

	m := negotiation.New(negotiation.Config{
		LocalID:  c.cfg.LocalID,
		RemoteID: c.cfg.RemoteID,
		Greeting: c.cfg.Greeting,
		Engine:   engine,
		Output:   output,
		Send:     c.send,
		Emit:     c.Emit,
	})
	c.machine.Store(m)

	inbox := make(chan protocol.Envelope)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.receive(inbox)
	}()

	for {
		select {
		case env := <-inbox:
			if err := m.HandleEnvelope(env); err != nil {
				util.LogError("[SIG] %s from %q: %v", env.Type, env.From, err)
			}

		case ev := <-c.events:
			if err := m.HandleEvent(ev); err != nil {
				util.LogError("[NEGOTIATION] %T: %v", ev, err)
			}

		case err := <-errCh:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}

		if c.writeErr != nil {
			return c.writeErr
		}
	}
}
