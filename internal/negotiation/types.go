// Package negotiation runs the per-remote-peer offer/answer state machine.
//
// The machine never talks to a socket or a media stack directly: commands go
// to an Engine, outbound envelopes to a send function, and everything the
// engine reports comes back in as an Event. The caller is expected to drive
// a Machine from a single goroutine.
package negotiation

// Phase is the negotiation progress with one remote peer.
type Phase int

const (
	Idle Phase = iota
	AwaitingLocalOffer
	OfferSent
	OfferReceived
	AwaitingLocalAnswer
	AnswerSent
	Connected
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingLocalOffer:
		return "awaiting-local-offer"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case AwaitingLocalAnswer:
		return "awaiting-local-answer"
	case AnswerSent:
		return "answer-sent"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// DescriptionType distinguishes offers from answers.
type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// Description is a session description as produced or consumed by the engine.
type Description struct {
	Type DescriptionType
	SDP  string
}

// Candidate is one ICE candidate and the media line it belongs to.
type Candidate struct {
	MLineIndex int
	Candidate  string
}

// Engine is the command side of the external media subsystem.
type Engine interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(desc Description) error
	SetRemoteDescription(desc Description) error
	AddICECandidate(c Candidate) error
	// Rollback discards a local offer that has not been answered.
	Rollback() error
}

// Track is a remote media track handed to the output collaborator.
type Track interface {
	ID() string
	Kind() string
}

// DataChannel is an opened data channel.
type DataChannel interface {
	Label() string
	OnMessage(fn func(text string))
	SendText(text string) error
}

// Output receives remote media and data-channel text.
type Output interface {
	HandleTrack(track Track)
	HandleMessage(label, text string)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is something the media engine reports. The set is closed.
type Event interface {
	event()
}

// NegotiationNeeded asks for a fresh offer.
type NegotiationNeeded struct{}

// LocalCandidate carries a locally gathered ICE candidate.
type LocalCandidate struct {
	Candidate Candidate
}

// RemoteTrackAdded announces incoming media.
type RemoteTrackAdded struct {
	Track Track
}

// DataChannelOpened announces an inbound or outbound data channel.
type DataChannelOpened struct {
	Channel DataChannel
}

// DataChannelMessage carries text received on a data channel.
type DataChannelMessage struct {
	Label string
	Text  string
}

// TransportConnected reports that the peer connection is up.
type TransportConnected struct{}

func (NegotiationNeeded) event()  {}
func (LocalCandidate) event()     {}
func (RemoteTrackAdded) event()   {}
func (DataChannelOpened) event()  {}
func (DataChannelMessage) event() {}
func (TransportConnected) event() {}
