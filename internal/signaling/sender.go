package signaling

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/util"
)

// send writes one envelope. Called only from the dispatch loop.
func (c *Client) send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.writeErr = fmt.Errorf("write %s: %w", env.Type, err)
		return c.writeErr
	}
	util.LogTrace("[SIG] → %s", data)
	return nil
}
