package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/util"
)

const shutdownTimeout = 5 * time.Second

// Server exposes a Relay over HTTP: WebSocket upgrades on / and /ws, plus
// /health and /stats. The same handler backs the plain and TLS listeners.
type Server struct {
	cfg      config.Relay
	relay    *Relay
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer builds the HTTP surface for relay.
func NewServer(cfg config.Relay, relay *Relay) *Server {
	s := &Server{
		cfg:   cfg,
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/stats", s.handleStats)

	ws := engine.Group("/")
	if cfg.JWTSecret != "" {
		ws.Use(JWTAuth(cfg.JWTSecret))
	}
	ws.GET("/", s.handleWS)
	ws.GET("/ws", s.handleWS)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on the configured plain and TLS addresses until ctx is
// cancelled or a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	type endpoint struct {
		ln  net.Listener
		srv *http.Server
		tls bool
	}
	var endpoints []endpoint

	listen := func(addr string, tls bool) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, ep := range endpoints {
				ep.ln.Close()
			}
			return err
		}
		endpoints = append(endpoints, endpoint{ln: ln, srv: &http.Server{Handler: s.engine}, tls: tls})
		return nil
	}
	if s.cfg.Addr != "" {
		if err := listen(s.cfg.Addr, false); err != nil {
			return err
		}
	}
	if s.cfg.TLSAddr != "" {
		if err := listen(s.cfg.TLSAddr, true); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		if ep.tls {
			util.LogInfo("signaling relay listening on wss://%s", ep.ln.Addr())
			g.Go(func() error { return ignoreClosed(ep.srv.ServeTLS(ep.ln, s.cfg.CertFile, s.cfg.KeyFile)) })
		} else {
			util.LogInfo("signaling relay listening on ws://%s", ep.ln.Addr())
			g.Go(func() error { return ignoreClosed(ep.srv.Serve(ep.ln)) })
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, ep := range endpoints {
			errs = append(errs, ep.srv.Shutdown(shutdownCtx))
		}
		s.closeSessions()
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("failed to upgrade connection: %v", err)
		return
	}

	sess := newSession(ws)
	s.track(sess, true)
	defer s.track(sess, false)

	sess.serve(s.relay)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"peers":    s.relay.Registry().IDs(),
		"counters": util.Stats.Snapshot(),
	})
}

func (s *Server) track(sess *session, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.sessions[sess] = struct{}{}
	} else {
		delete(s.sessions, sess)
	}
}

// closeSessions terminates hijacked connections, which http.Server.Shutdown
// does not track.
func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.close()
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
