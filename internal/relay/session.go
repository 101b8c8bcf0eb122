package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/registry"
	"github.com/1ureka/peerlink/internal/util"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageBytes = 64 * 1024
	sendBufferSize  = 256
)

var errSessionClosed = errors.New("session closed")

// session is one relay-side WebSocket connection. Reads happen on the
// goroutine running serve; all writes except close frames go through the
// send queue drained by writePump.
type session struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

var _ registry.Conn = (*session)(nil)

func newSession(ws *websocket.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection id used in logs.
func (s *session) ID() string { return s.id }

// Send enqueues a frame without blocking.
func (s *session) Send(frame []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return registry.ErrQueueFull
	}
}

// serve runs the read loop until the connection fails or sends malformed
// input, then releases the registry entry.
func (s *session) serve(r *Relay) {
	st := &ConnState{Conn: s}
	util.Stats.AddConn()
	util.LogInfo("[NEW CONNECTION] %s from %s", s.id, s.ws.RemoteAddr())

	go s.writePump()

	defer func() {
		s.stop()
		r.Release(st)
		s.ws.Close()
		util.Stats.RemoveConn()
	}()

	s.ws.SetReadLimit(maxMessageBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogWarning("[DISCONNECT] %s (peer %q): %v", s.id, st.PeerID, err)
			} else {
				util.LogInfo("[DISCONNECT] connection closed for peer %q", st.PeerID)
			}
			return
		}

		if msgType != websocket.TextMessage {
			util.LogError("[%s] binary frame rejected", s.id)
			s.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if err := r.Handle(st, data); err != nil {
			util.LogError("[%s] %v", s.id, err)
			s.writeClose(websocket.CloseUnsupportedData, "malformed envelope")
			return
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				util.LogWarning("[%s] write failed: %v", s.id, err)
				return
			}

		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// stop prevents further sends and ends writePump.
func (s *session) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writeClose sends a close frame. WriteControl is safe to call concurrently
// with writePump.
func (s *session) writeClose(code int, reason string) {
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// close terminates the connection from outside the read loop.
func (s *session) close() {
	s.writeClose(websocket.CloseGoingAway, "relay shutting down")
	s.ws.Close()
}
