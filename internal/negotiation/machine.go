package negotiation

import (
	"fmt"
	"sync"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/util"
)

// Config wires a Machine to its collaborators.
type Config struct {
	LocalID  string
	RemoteID string
	Greeting bool // send "hello-from-<LocalID>" on every opened data channel

	Engine Engine
	Output Output
	// Send writes an envelope to the signaling channel. It is only called
	// from HandleEvent / HandleEnvelope.
	Send func(protocol.Envelope) error
	// Emit feeds an event back into the caller's dispatch loop. It must be
	// safe to call from any goroutine.
	Emit func(Event)
}

// Machine negotiates with exactly one remote peer. Either side may become
// the caller: whoever's engine asks for negotiation first sends the offer,
// and an unsolicited offer makes this side the callee.
type Machine struct {
	cfg Config

	// remoteAbsent is set when the relay reported the remote as unknown.
	// Until the remote speaks up, it is the one expected to offer.
	remoteAbsent bool
	// deferred records a negotiation request that arrived mid-exchange.
	deferred     bool
	// transportUp is set once the engine reported connectivity and cleared
	// when a rollback replaces the transport.
	transportUp  bool

	mu    sync.RWMutex
	phase Phase
}

// New creates a machine in the Idle phase.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, phase: Idle}
}

// Phase returns the current phase. Safe for concurrent use.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Polite reports whether this side yields on offer collision.
func (m *Machine) Polite() bool {
	return m.cfg.LocalID < m.cfg.RemoteID
}

func (m *Machine) setPhase(p Phase) {
	m.mu.Lock()
	prev := m.phase
	m.phase = p
	m.mu.Unlock()

	if prev == p {
		return
	}
	util.LogDebug("[NEGOTIATION] %s: %s → %s", m.cfg.RemoteID, prev, p)
	if p == Connected {
		util.LogSuccess("negotiation with %s complete", m.cfg.RemoteID)
	}
}

// restore puts the phase back after a failed engine command so the next
// negotiation-needed event or remote offer can start over.
func (m *Machine) restore(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	util.LogDebug("[NEGOTIATION] %s: back to %s", m.cfg.RemoteID, p)
}

// connected enters Connected and replays a deferred negotiation request.
func (m *Machine) connected() error {
	m.setPhase(Connected)
	if !m.deferred {
		return nil
	}
	m.deferred = false
	return m.sendOffer()
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

// HandleEvent applies one media-engine event.
func (m *Machine) HandleEvent(ev Event) error {
	switch e := ev.(type) {
	case NegotiationNeeded:
		if m.remoteAbsent {
			util.LogDebug("[NEGOTIATION] %s is offline, waiting for its offer", m.cfg.RemoteID)
			return nil
		}
		switch m.Phase() {
		case Idle, Connected:
			return m.sendOffer()
		default:
			util.LogDebug("[NEGOTIATION] negotiation-needed deferred in phase %s", m.Phase())
			m.deferred = true
			return nil
		}

	case LocalCandidate:
		return m.cfg.Send(protocol.ICE(m.cfg.RemoteID, e.Candidate.MLineIndex, e.Candidate.Candidate))

	case RemoteTrackAdded:
		util.LogInfo("[WEBRTC] incoming %s track %s", e.Track.Kind(), e.Track.ID())
		m.cfg.Output.HandleTrack(e.Track)
		return nil

	case DataChannelOpened:
		return m.openChannel(e.Channel)

	case DataChannelMessage:
		m.cfg.Output.HandleMessage(e.Label, e.Text)
		return nil

	case TransportConnected:
		m.transportUp = true
		if m.Phase() == AnswerSent {
			return m.connected()
		}
		return nil

	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func (m *Machine) sendOffer() error {
	prev := m.Phase()
	m.setPhase(AwaitingLocalOffer)

	offer, err := m.cfg.Engine.CreateOffer()
	if err != nil {
		m.restore(prev)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.cfg.Engine.SetLocalDescription(offer); err != nil {
		m.restore(prev)
		return fmt.Errorf("set local offer: %w", err)
	}

	m.setPhase(OfferSent)
	util.LogInfo("[WEBRTC] sending SDP offer to %s", m.cfg.RemoteID)
	return m.cfg.Send(protocol.Offer(m.cfg.RemoteID, offer.SDP))
}

func (m *Machine) openChannel(ch DataChannel) error {
	label := ch.Label()
	util.LogInfo("[WEBRTC] data channel opened: %s", label)

	emit := m.cfg.Emit
	ch.OnMessage(func(text string) {
		emit(DataChannelMessage{Label: label, Text: text})
	})

	if !m.cfg.Greeting {
		return nil
	}
	if err := ch.SendText("hello-from-" + m.cfg.LocalID); err != nil {
		return fmt.Errorf("greeting on %s: %w", label, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Signaling envelopes
// ---------------------------------------------------------------------------

// HandleEnvelope applies one envelope received from the relay. Envelopes
// from peers other than the configured remote are ignored.
func (m *Machine) HandleEnvelope(env protocol.Envelope) error {
	if env.Type == protocol.TypeError {
		return m.handleError(env)
	}
	if env.From != m.cfg.RemoteID {
		util.LogDebug("[SIG] ignoring %s from %q", env.Type, env.From)
		return nil
	}
	m.remoteAbsent = false

	switch env.Type {
	case protocol.TypeOffer:
		return m.handleOffer(env.SDP)

	case protocol.TypeAnswer:
		if m.Phase() != OfferSent {
			util.LogWarning("[SIG] unexpected answer from %s in phase %s", env.From, m.Phase())
			return nil
		}
		util.LogInfo("[SIG] answer received from %s", env.From)
		if err := m.cfg.Engine.SetRemoteDescription(Description{Type: DescriptionAnswer, SDP: env.SDP}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return m.connected()

	case protocol.TypeICE:
		if env.SDPMLineIndex == nil {
			return fmt.Errorf("ice from %s without sdp_mline_index", env.From)
		}
		// Applied regardless of phase; the engine queues early candidates.
		if err := m.cfg.Engine.AddICECandidate(Candidate{MLineIndex: *env.SDPMLineIndex, Candidate: env.Candidate}); err != nil {
			util.LogWarning("[SIG] add ICE candidate: %v", err)
		}
		return nil

	default:
		util.LogDebug("[SIG] ignoring %s", env.Type)
		return nil
	}
}

func (m *Machine) handleOffer(sdp string) error {
	prev := m.Phase()
	switch prev {
	case Idle, AnswerSent, Connected:
	case OfferSent:
		if !m.Polite() {
			util.LogWarning("[SIG] offer collision with %s, keeping our offer", m.cfg.RemoteID)
			return nil
		}
		util.LogWarning("[SIG] offer collision with %s, rolling back our offer", m.cfg.RemoteID)
		if err := m.cfg.Engine.Rollback(); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
		m.transportUp = false
		prev = Idle
	default:
		util.LogWarning("[SIG] offer from %s ignored in phase %s", m.cfg.RemoteID, m.Phase())
		return nil
	}

	util.LogInfo("[SIG] offer received from %s", m.cfg.RemoteID)
	if err := m.cfg.Engine.SetRemoteDescription(Description{Type: DescriptionOffer, SDP: sdp}); err != nil {
		m.restore(prev)
		return fmt.Errorf("set remote offer: %w", err)
	}
	m.setPhase(OfferReceived)

	m.setPhase(AwaitingLocalAnswer)
	answer, err := m.cfg.Engine.CreateAnswer()
	if err != nil {
		m.restore(prev)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := m.cfg.Engine.SetLocalDescription(answer); err != nil {
		m.restore(prev)
		return fmt.Errorf("set local answer: %w", err)
	}

	m.setPhase(AnswerSent)
	util.LogInfo("[WEBRTC] sending SDP answer to %s", m.cfg.RemoteID)
	if err := m.cfg.Send(protocol.Answer(m.cfg.RemoteID, answer.SDP)); err != nil {
		return err
	}
	// A renegotiation over a live transport gets no new connectivity event.
	if m.transportUp {
		return m.connected()
	}
	return nil
}

// handleError reacts to relay errors. An offer that could not be delivered
// is rolled back so the peer can still take the callee role later; further
// local offers are held back until the remote shows up.
func (m *Machine) handleError(env protocol.Envelope) error {
	util.LogWarning("[SIG][ERROR] %s target=%q got=%q", env.Reason, env.Target, env.Got)

	if env.Reason != protocol.ReasonTargetNotFound || env.Target != m.cfg.RemoteID || m.Phase() != OfferSent {
		return nil
	}
	if err := m.cfg.Engine.Rollback(); err != nil {
		return fmt.Errorf("rollback undelivered offer: %w", err)
	}
	m.remoteAbsent = true
	m.deferred = false
	m.transportUp = false
	m.setPhase(Idle)
	return nil
}
