// Package protocol defines the JSON envelope exchanged between peers and the relay.
package protocol

import (
	"errors"
	"fmt"
)

// Type identifies the kind of envelope carried on the signaling socket.
type Type string

// Envelope type constants.
const (
	TypeHello   Type = "hello"      // client → relay: claim a peer id
	TypeHelloOK Type = "hello-ok"   // relay → client: registration acknowledged
	TypeOffer   Type = "sdp-offer"  // routed: session description offer
	TypeAnswer  Type = "sdp-answer" // routed: session description answer
	TypeICE     Type = "ice"        // routed: trickled ICE candidate
	TypeError   Type = "error"      // relay → client: routing/protocol failure
)

// Error reasons reported by the relay.
const (
	ReasonTargetNotFound = "target-not-found"
	ReasonUnknownType    = "unknown-type"
	ReasonHelloRequired  = "hello-required"
)

// ErrMalformed is returned for input that cannot be interpreted as an envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the decoded form of one signaling message. Which fields are
// meaningful depends on Type; Validate enforces the per-type requirements.
type Envelope struct {
	Type          Type   `json:"type"`
	PeerID        string `json:"peer_id,omitempty"`
	To            string `json:"to,omitempty"`
	From          string `json:"from,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	SDPMLineIndex *int   `json:"sdp_mline_index,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Target        string `json:"target,omitempty"`
	Got           string `json:"got,omitempty"`
}

// Routable reports whether t is relayed between peers.
func (t Type) Routable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICE:
		return true
	}
	return false
}

// Validate checks that the fields required by e.Type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeHello:
		if e.PeerID == "" {
			return fmt.Errorf("%w: hello missing peer_id", ErrMalformed)
		}
	case TypeHelloOK:
	case TypeOffer, TypeAnswer:
		if e.SDP == "" {
			return fmt.Errorf("%w: %s missing sdp", ErrMalformed, e.Type)
		}
	case TypeICE:
		if e.SDPMLineIndex == nil {
			return fmt.Errorf("%w: ice missing sdp_mline_index", ErrMalformed)
		}
		if *e.SDPMLineIndex < 0 {
			return fmt.Errorf("%w: ice has negative sdp_mline_index", ErrMalformed)
		}
	case TypeError:
		if e.Reason == "" {
			return fmt.Errorf("%w: error missing reason", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrMalformed, e.Type)
	}
	return nil
}

// Hello builds the registration envelope.
func Hello(peerID string) Envelope {
	return Envelope{Type: TypeHello, PeerID: peerID}
}

// HelloOK builds the registration acknowledgement.
func HelloOK() Envelope {
	return Envelope{Type: TypeHelloOK}
}

// Offer builds an sdp-offer addressed to peer to.
func Offer(to, sdp string) Envelope {
	return Envelope{Type: TypeOffer, To: to, SDP: sdp}
}

// Answer builds an sdp-answer addressed to peer to.
func Answer(to, sdp string) Envelope {
	return Envelope{Type: TypeAnswer, To: to, SDP: sdp}
}

// ICE builds a trickled candidate envelope addressed to peer to.
func ICE(to string, mlineIndex int, candidate string) Envelope {
	return Envelope{Type: TypeICE, To: to, SDPMLineIndex: &mlineIndex, Candidate: candidate}
}

// TargetNotFound builds the routing error returned when to is not registered.
func TargetNotFound(to string) Envelope {
	return Envelope{Type: TypeError, Reason: ReasonTargetNotFound, Target: to}
}

// UnknownType builds the protocol error returned for an unrecognised type.
func UnknownType(got string) Envelope {
	return Envelope{Type: TypeError, Reason: ReasonUnknownType, Got: got}
}

// HelloRequired builds the error returned for routable envelopes sent before hello.
func HelloRequired(target string) Envelope {
	return Envelope{Type: TypeError, Reason: ReasonHelloRequired, Target: target}
}
