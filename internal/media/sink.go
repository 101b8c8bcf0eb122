package media

import (
	"io"

	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/util"
)

// Sink is the default output: it discards remote media after counting it
// and prints data-channel text. Rendering is out of scope for this tool.
type Sink struct{}

var _ negotiation.Output = Sink{}

// HandleTrack drains track on its own goroutine until it ends.
func (Sink) HandleTrack(track negotiation.Track) {
	r, ok := track.(io.Reader)
	if !ok {
		return
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			n, err := r.Read(buf)
			if err != nil {
				util.LogDebug("[MEDIA] %s track %s ended: %v", track.Kind(), track.ID(), err)
				return
			}
			util.Stats.AddRecv(n)
		}
	}()
}

func (Sink) HandleMessage(label, text string) {
	util.LogInfo("[DATA][%s] %s", label, text)
}
