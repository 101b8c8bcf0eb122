package media

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/negotiation"
)

// dataChannel exposes a pion DataChannel as text-only negotiation.DataChannel.
type dataChannel struct {
	raw *webrtc.DataChannel
}

var _ negotiation.DataChannel = (*dataChannel)(nil)

func newDataChannel(raw *webrtc.DataChannel) *dataChannel {
	return &dataChannel{raw: raw}
}

func (c *dataChannel) Label() string              { return c.raw.Label() }
func (c *dataChannel) SendText(text string) error { return c.raw.SendText(text) }

// OnMessage registers fn for inbound messages. Binary payloads are passed
// through as text as well.
func (c *dataChannel) OnMessage(fn func(text string)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(string(msg.Data))
	})
}

// remoteTrack exposes a pion TrackRemote as negotiation.Track. Read makes
// it an io.Reader over raw RTP so the sink can drain it.
type remoteTrack struct {
	raw *webrtc.TrackRemote
}

var _ negotiation.Track = (*remoteTrack)(nil)

func (t *remoteTrack) ID() string   { return t.raw.ID() }
func (t *remoteTrack) Kind() string { return t.raw.Kind().String() }

func (t *remoteTrack) Read(buf []byte) (int, error) {
	n, _, err := t.raw.Read(buf)
	return n, err
}
