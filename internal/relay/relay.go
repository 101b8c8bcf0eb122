// Package relay implements the signaling relay: it registers peers by the
// id they announce in hello and forwards offer/answer/ice envelopes between
// them without interpreting the payload.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/peerlink/internal/presence"
	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/registry"
	"github.com/1ureka/peerlink/internal/util"
)

const presenceTimeout = 2 * time.Second

// ConnState is the relay's per-connection state. It is owned by the
// connection's read loop and never shared.
type ConnState struct {
	Conn   registry.Conn
	PeerID string // empty until the first hello
}

// Relay dispatches inbound frames against a shared registry.
type Relay struct {
	registry *registry.Registry
	presence presence.Store
}

// New creates a relay. A nil store disables presence mirroring.
func New(reg *registry.Registry, store presence.Store) *Relay {
	if store == nil {
		store = presence.Nop{}
	}
	return &Relay{registry: reg, presence: store}
}

// Registry exposes the peer table, mainly for stats.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// Handle processes one inbound message. Only a malformed message returns an
// error; the caller must then terminate the connection. Routing and protocol
// errors are answered to the sender and leave the connection usable.
func (r *Relay) Handle(st *ConnState, data []byte) error {
	f, err := protocol.ParseFrame(data)
	if err != nil {
		return err
	}

	switch {
	case f.Type == protocol.TypeHello:
		return r.hello(st, f)
	case f.Type.Routable():
		r.forward(st, f)
		return nil
	default:
		util.LogWarning("[%s] unknown message type %q", st.Conn.ID(), f.Type)
		r.reply(st, protocol.UnknownType(string(f.Type)))
		return nil
	}
}

// Route forwards f to its target with "from" set to sender.
func (r *Relay) Route(sender string, f *protocol.Frame) (registry.RouteResult, error) {
	if f.To == "" {
		return registry.TargetNotFound, nil
	}
	payload, err := f.Forward(sender)
	if err != nil {
		return registry.TargetNotFound, fmt.Errorf("re-encode %s: %w", f.Type, err)
	}
	return r.registry.Deliver(f.To, payload)
}

// Release drops st's registry entry if it still belongs to st.Conn.
func (r *Relay) Release(st *ConnState) {
	if st.PeerID == "" {
		return
	}
	if !r.registry.UnregisterIfCurrent(st.PeerID, st.Conn) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Remove(ctx, st.PeerID); err != nil {
		util.LogWarning("presence remove %q: %v", st.PeerID, err)
	}
	util.LogInfo("[CLEANUP] removed peer %q, remaining: %v", st.PeerID, r.registry.IDs())
}

func (r *Relay) hello(st *ConnState, f *protocol.Frame) error {
	if f.PeerID == "" {
		return fmt.Errorf("%w: hello missing peer_id", protocol.ErrMalformed)
	}

	ack, err := protocol.Encode(protocol.HelloOK())
	if err != nil {
		return err
	}

	// A connection that re-announces under a new id gives up the old one.
	if st.PeerID != "" && st.PeerID != f.PeerID {
		r.Release(st)
	}

	displaced, err := r.registry.Register(f.PeerID, st.Conn, ack)
	st.PeerID = f.PeerID
	if err != nil {
		util.Stats.AddDropped()
		util.LogWarning("[%s] hello-ok not queued: %v", st.Conn.ID(), err)
	}
	if displaced != nil {
		util.LogWarning("[HELLO] peer %q re-registered, connection %s superseded by %s",
			f.PeerID, displaced.ID(), st.Conn.ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.Add(ctx, f.PeerID); err != nil {
		util.LogWarning("presence add %q: %v", f.PeerID, err)
	}

	util.LogInfo("[HELLO] peer %q connected (%s), total peers: %d", f.PeerID, st.Conn.ID(), r.registry.Len())
	return nil
}

func (r *Relay) forward(st *ConnState, f *protocol.Frame) {
	if st.PeerID == "" {
		util.LogWarning("[%s] %s before hello", st.Conn.ID(), f.Type)
		r.reply(st, protocol.HelloRequired(f.To))
		return
	}

	res, err := r.Route(st.PeerID, f)
	switch {
	case errors.Is(err, registry.ErrQueueFull):
		util.Stats.AddDropped()
		util.LogWarning("[RELAY] %s from %q to %q dropped: %v", f.Type, st.PeerID, f.To, err)
	case err != nil:
		util.LogError("[RELAY] %s from %q to %q: %v", f.Type, st.PeerID, f.To, err)
	case res == registry.TargetNotFound:
		util.LogWarning("[ERROR] target %q not found, available: %v", f.To, r.registry.IDs())
		r.reply(st, protocol.TargetNotFound(f.To))
	default:
		util.Stats.AddRelayed()
		util.LogDebug("[RELAY] %s from %q to %q", f.Type, st.PeerID, f.To)
	}
}

// reply sends an error envelope back to the sender only.
func (r *Relay) reply(st *ConnState, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		util.LogError("encode %s: %v", env.Type, err)
		return
	}
	if err := st.Conn.Send(data); err != nil {
		util.Stats.AddDropped()
		util.LogWarning("[%s] %s not queued: %v", st.Conn.ID(), env.Reason, err)
		return
	}
	util.Stats.AddError()
}
