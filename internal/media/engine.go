// Package media adapts a pion PeerConnection to the negotiation engine
// interface. Pion callbacks never act on their own; each one is turned into
// a negotiation event and handed to the emit function.
package media

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/util"
)

const streamID = "peerlink"

// Engine wraps a single PeerConnection plus its optional outbound data
// channel and local tracks. Rollback replaces the PeerConnection with a
// fresh one built from the same configuration.
type Engine struct {
	cfg  config.Peer
	api  *webrtc.API
	emit func(negotiation.Event)

	mu      sync.RWMutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	pcState webrtc.PeerConnectionState
	// early holds remote candidates received before any remote description.
	early   []webrtc.ICECandidateInit
}

var _ negotiation.Engine = (*Engine)(nil)

// NewEngine creates the PeerConnection described by cfg. Events start
// flowing into emit immediately, typically beginning with NegotiationNeeded
// once local media is attached.
func NewEngine(cfg config.Peer, emit func(negotiation.Event)) (*Engine, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, api: api, emit: emit}
	if err := e.build(); err != nil {
		return nil, err
	}
	return e, nil
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = loggerFactory{}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// build creates a PeerConnection, makes it current and attaches local media.
// The previous PeerConnection, if any, is closed.
func (e *Engine) build() error {
	var iceServers []webrtc.ICEServer
	if e.cfg.ICEServer != "" {
		iceServers = []webrtc.ICEServer{{URLs: []string{e.cfg.ICEServer}}}
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	e.mu.Lock()
	oldPC, oldDC := e.pc, e.dc
	e.pc, e.dc = pc, nil
	e.pcState = webrtc.PeerConnectionStateNew
	e.mu.Unlock()

	if oldPC != nil {
		closePeer(oldPC, oldDC)
	}

	e.wireCallbacks(pc)

	if err := e.addMedia(pc, webrtc.RTPCodecTypeVideo, e.cfg.UseCamera); err != nil {
		pc.Close()
		return err
	}
	if err := e.addMedia(pc, webrtc.RTPCodecTypeAudio, e.cfg.UseMic); err != nil {
		pc.Close()
		return err
	}

	if e.cfg.DataChannelLabel != "" {
		dc, err := pc.CreateDataChannel(e.cfg.DataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return fmt.Errorf("create data channel %q: %w", e.cfg.DataChannelLabel, err)
		}
		e.mu.Lock()
		e.dc = dc
		e.mu.Unlock()
		dc.OnOpen(func() {
			if e.current(pc) {
				e.emit(negotiation.DataChannelOpened{Channel: newDataChannel(dc)})
			}
		})
	}
	return nil
}

// current reports whether pc is still the live PeerConnection. Callbacks of
// a replaced PeerConnection are dropped.
func (e *Engine) current(pc *webrtc.PeerConnection) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pc == pc
}

func (e *Engine) peer() *webrtc.PeerConnection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pc
}

func (e *Engine) wireCallbacks(pc *webrtc.PeerConnection) {
	pc.OnNegotiationNeeded(func() {
		if e.current(pc) {
			e.emit(negotiation.NegotiationNeeded{})
		}
	})

	// A nil candidate marks the end of gathering and is not signaled.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !e.current(pc) {
			return
		}
		e.emit(negotiation.LocalCandidate{Candidate: fromICEInit(c.ToJSON())})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if e.current(pc) {
			e.emit(negotiation.RemoteTrackAdded{Track: &remoteTrack{raw: track}})
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			if e.current(pc) {
				e.emit(negotiation.DataChannelOpened{Channel: newDataChannel(dc)})
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.mu.Lock()
		live := e.pc == pc
		if live {
			e.pcState = state
		}
		e.mu.Unlock()
		if !live {
			return
		}

		util.LogDebug("[WEBRTC] PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateConnected {
			e.emit(negotiation.TransportConnected{})
		}
	})
}

// addMedia attaches a local static-sample track when send is set and a
// receive-only transceiver otherwise. Local tracks are never fed samples.
func (e *Engine) addMedia(pc *webrtc.PeerConnection, kind webrtc.RTPCodecType, send bool) error {
	if !send {
		_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
		}
		return nil
	}

	mime := webrtc.MimeTypeVP8
	if kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), streamID)
	if err != nil {
		return fmt.Errorf("create local %s track: %w", kind, err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local %s track: %w", kind, err)
	}

	// RTCP must be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the data channel and the PeerConnection.
func (e *Engine) Close() error {
	e.mu.Lock()
	pc, dc := e.pc, e.dc
	e.mu.Unlock()
	return closePeer(pc, dc)
}

func closePeer(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) error {
	var dcErr error
	if dc != nil {
		dcErr = dc.Close()
	}
	return errors.Join(dcErr, pc.Close())
}

// ConnectionState returns the last observed state of the live
// PeerConnection.
func (e *Engine) ConnectionState() webrtc.PeerConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pcState
}

// ---------------------------------------------------------------------------
// negotiation.Engine
// ---------------------------------------------------------------------------

func (e *Engine) CreateOffer() (negotiation.Description, error) {
	sd, err := e.peer().CreateOffer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	return fromSessionDescription(sd), nil
}

func (e *Engine) CreateAnswer() (negotiation.Description, error) {
	sd, err := e.peer().CreateAnswer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	return fromSessionDescription(sd), nil
}

func (e *Engine) SetLocalDescription(desc negotiation.Description) error {
	return e.peer().SetLocalDescription(toSessionDescription(desc))
}

// SetRemoteDescription applies desc and then any candidates that arrived
// before it.
func (e *Engine) SetRemoteDescription(desc negotiation.Description) error {
	if err := e.peer().SetRemoteDescription(toSessionDescription(desc)); err != nil {
		return err
	}

	e.mu.Lock()
	pc, early := e.pc, e.early
	e.early = nil
	e.mu.Unlock()

	for _, c := range early {
		if err := pc.AddICECandidate(c); err != nil {
			util.LogWarning("[WEBRTC] add queued ICE candidate: %v", err)
		}
	}
	return nil
}

// AddICECandidate applies c, or queues it while no remote description is set.
func (e *Engine) AddICECandidate(c negotiation.Candidate) error {
	init, err := toICEInit(c)
	if err != nil {
		return err
	}

	e.mu.Lock()
	pc := e.pc
	if pc.RemoteDescription() == nil {
		e.early = append(e.early, init)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	return pc.AddICECandidate(init)
}

// Rollback discards the pending local offer. Pion cannot roll back a local
// offer in place, so the PeerConnection is rebuilt with the same local media;
// the fresh connection raises NegotiationNeeded on its own.
func (e *Engine) Rollback() error {
	if state := e.peer().SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("no pending local offer in signaling state %s", state)
	}
	if err := e.build(); err != nil {
		return fmt.Errorf("rebuild peer connection: %w", err)
	}
	util.LogDebug("[WEBRTC] local offer discarded, PeerConnection rebuilt")
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toSessionDescription(desc negotiation.Description) webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if desc.Type == negotiation.DescriptionAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}
}

func fromSessionDescription(sd webrtc.SessionDescription) negotiation.Description {
	typ := negotiation.DescriptionOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		typ = negotiation.DescriptionAnswer
	}
	return negotiation.Description{Type: typ, SDP: sd.SDP}
}

func toICEInit(c negotiation.Candidate) (webrtc.ICECandidateInit, error) {
	if c.MLineIndex < 0 || c.MLineIndex > math.MaxUint16 {
		return webrtc.ICECandidateInit{}, fmt.Errorf("sdp_mline_index %d out of range", c.MLineIndex)
	}
	idx := uint16(c.MLineIndex)
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMLineIndex: &idx}, nil
}

func fromICEInit(init webrtc.ICECandidateInit) negotiation.Candidate {
	c := negotiation.Candidate{Candidate: init.Candidate}
	if init.SDPMLineIndex != nil {
		c.MLineIndex = int(*init.SDPMLineIndex)
	}
	return c
}
