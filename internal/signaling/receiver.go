package signaling

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/util"
)

// receive decodes relay frames into inbox until the socket fails or the
// client stops. A frame that does not decode ends the session.
func (c *Client) receive(inbox chan<- protocol.Envelope) error {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			return fmt.Errorf("relay connection lost: %w", err)
		}
		if msgType != websocket.TextMessage {
			return fmt.Errorf("%w: binary frame from relay", protocol.ErrMalformed)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			return fmt.Errorf("relay sent %s: %w", data, err)
		}
		util.LogTrace("[SIG] ← %s", data)

		select {
		case inbox <- env:
		case <-c.done:
			return nil
		}
	}
}
