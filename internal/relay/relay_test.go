package relay

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/1ureka/peerlink/internal/protocol"
	"github.com/1ureka/peerlink/internal/registry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// recordConn is an in-memory registry.Conn that keeps every frame.
type recordConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (c *recordConn) ID() string { return c.id }

func (c *recordConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("%s received undecodable frame %s: %v", c.id, f, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *recordConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// connect registers a fresh connection under id and discards its hello-ok.
func connect(t *testing.T, r *Relay, id string) (*ConnState, *recordConn) {
	t.Helper()
	conn := &recordConn{id: "conn-" + id}
	st := &ConnState{Conn: conn}
	if err := r.Handle(st, []byte(`{"type":"hello","peer_id":"`+id+`"}`)); err != nil {
		t.Fatalf("hello %s: %v", id, err)
	}
	got := conn.envelopes(t)
	if len(got) != 1 || got[0].Type != protocol.TypeHelloOK {
		t.Fatalf("hello %s: got %+v, want hello-ok", id, got)
	}
	conn.reset()
	return st, conn
}

func TestRouteOfferAddsFrom(t *testing.T) {
	r := New(registry.New(), nil)
	stA, connA := connect(t, r, "A")
	_, connB := connect(t, r, "B")

	if err := r.Handle(stA, []byte(`{"type":"sdp-offer","to":"B","sdp":"v=0 offer"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := connB.envelopes(t)
	if len(got) != 1 {
		t.Fatalf("B received %d envelopes, want 1", len(got))
	}
	env := got[0]
	if env.Type != protocol.TypeOffer || env.From != "A" || env.SDP != "v=0 offer" || env.To != "B" {
		t.Errorf("delivered %+v", env)
	}
	if len(connA.envelopes(t)) != 0 {
		t.Errorf("sender received %+v", connA.envelopes(t))
	}
}

func TestRouteUnknownTarget(t *testing.T) {
	r := New(registry.New(), nil)
	stA, connA := connect(t, r, "A")
	_, connB := connect(t, r, "B")

	for _, raw := range []string{
		`{"type":"ice","to":"ghost","sdp_mline_index":0,"candidate":"c"}`,
		`{"type":"sdp-answer","sdp":"v=0"}`,
	} {
		connA.reset()
		if err := r.Handle(stA, []byte(raw)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		got := connA.envelopes(t)
		if len(got) != 1 {
			t.Fatalf("sender received %d envelopes, want 1", len(got))
		}
		if got[0].Type != protocol.TypeError || got[0].Reason != protocol.ReasonTargetNotFound {
			t.Errorf("reply = %+v", got[0])
		}
	}

	if got := connA.envelopes(t); got[0].Target != "" {
		t.Errorf("missing to reported target %q", got[0].Target)
	}
	if len(connB.envelopes(t)) != 0 {
		t.Errorf("bystander received %+v", connB.envelopes(t))
	}
}

func TestRouteTargetReported(t *testing.T) {
	r := New(registry.New(), nil)
	stA, connA := connect(t, r, "A")

	r.Handle(stA, []byte(`{"type":"sdp-offer","to":"ghost","sdp":"v=0"}`))
	got := connA.envelopes(t)
	if len(got) != 1 || got[0].Target != "ghost" {
		t.Errorf("reply = %+v", got)
	}
}

// TestRehelloMovesRoute verifies last-writer-wins on a second connection
// and that the superseded connection's cleanup leaves the new entry.
func TestRehelloMovesRoute(t *testing.T) {
	r := New(registry.New(), nil)
	stA, _ := connect(t, r, "A")
	stOld, oldB := connect(t, r, "B")
	_, newB := connect(t, r, "B")

	r.Handle(stA, []byte(`{"type":"sdp-offer","to":"B","sdp":"v=0"}`))
	if len(oldB.envelopes(t)) != 0 {
		t.Errorf("old connection received %+v", oldB.envelopes(t))
	}
	if len(newB.envelopes(t)) != 1 {
		t.Fatalf("new connection received %d envelopes", len(newB.envelopes(t)))
	}

	r.Release(stOld)
	newB.reset()
	r.Handle(stA, []byte(`{"type":"ice","to":"B","sdp_mline_index":1,"candidate":"c"}`))
	if len(newB.envelopes(t)) != 1 {
		t.Errorf("route broken after stale cleanup")
	}
}

func TestReleaseRemovesPeer(t *testing.T) {
	r := New(registry.New(), nil)
	stA, connA := connect(t, r, "A")
	stB, _ := connect(t, r, "B")

	r.Release(stB)
	if _, ok := r.Registry().Lookup("B"); ok {
		t.Fatal("B still registered after release")
	}

	r.Handle(stA, []byte(`{"type":"sdp-offer","to":"B","sdp":"v=0"}`))
	got := connA.envelopes(t)
	if len(got) != 1 || got[0].Reason != protocol.ReasonTargetNotFound || got[0].Target != "B" {
		t.Errorf("reply = %+v", got)
	}
}

func TestHelloWithNewIDReleasesOld(t *testing.T) {
	r := New(registry.New(), nil)
	st, conn := connect(t, r, "A")

	if err := r.Handle(st, []byte(`{"type":"hello","peer_id":"A2"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := r.Registry().Lookup("A"); ok {
		t.Error("old id still registered")
	}
	if c, ok := r.Registry().Lookup("A2"); !ok || c != conn {
		t.Error("new id not registered to the connection")
	}
}

func TestUnknownType(t *testing.T) {
	r := New(registry.New(), nil)
	st, conn := connect(t, r, "A")

	for _, raw := range []string{`{"type":"bye"}`, `{"type":"hello-ok"}`, `{"to":"B"}`} {
		conn.reset()
		if err := r.Handle(st, []byte(raw)); err != nil {
			t.Fatalf("Handle(%s): %v", raw, err)
		}
		got := conn.envelopes(t)
		if len(got) != 1 || got[0].Reason != protocol.ReasonUnknownType {
			t.Errorf("Handle(%s) replied %+v", raw, got)
		}
	}

	if got := conn.envelopes(t); got[0].Got != "" {
		t.Errorf("missing type reported got=%q", got[0].Got)
	}
}

func TestRouteBeforeHello(t *testing.T) {
	r := New(registry.New(), nil)
	_, connB := connect(t, r, "B")

	anon := &recordConn{id: "anon"}
	st := &ConnState{Conn: anon}
	if err := r.Handle(st, []byte(`{"type":"sdp-offer","to":"B","sdp":"v=0"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := anon.envelopes(t)
	if len(got) != 1 || got[0].Reason != protocol.ReasonHelloRequired {
		t.Errorf("reply = %+v", got)
	}
	if len(connB.envelopes(t)) != 0 {
		t.Errorf("unregistered sender reached B")
	}
}

func TestMalformedIsFatal(t *testing.T) {
	r := New(registry.New(), nil)
	st := &ConnState{Conn: &recordConn{id: "c"}}

	for _, raw := range []string{`not json`, `[1]`, `{"type":"hello"}`, `{"type":"hello","peer_id":5}`} {
		if err := r.Handle(st, []byte(raw)); !errors.Is(err, protocol.ErrMalformed) {
			t.Errorf("Handle(%s) = %v, want ErrMalformed", raw, err)
		}
	}
}
