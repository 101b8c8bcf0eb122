package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeConn records every frame handed to Send.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []string
	full   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return ErrQueueFull
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestDeliverToRegisteredPeer(t *testing.T) {
	r := New()
	a := &fakeConn{id: "conn-a"}
	b := &fakeConn{id: "conn-b"}
	r.Register("A", a, nil)
	r.Register("B", b, nil)

	res, err := r.Deliver("B", []byte("payload"))
	if err != nil || res != Delivered {
		t.Fatalf("Deliver = %v, %v", res, err)
	}
	if got := b.sent(); len(got) != 1 || got[0] != "payload" {
		t.Errorf("B received %v", got)
	}
	if got := a.sent(); len(got) != 0 {
		t.Errorf("A received %v", got)
	}
}

func TestDeliverUnknownTarget(t *testing.T) {
	r := New()
	a := &fakeConn{id: "conn-a"}
	r.Register("A", a, nil)

	res, err := r.Deliver("nobody", []byte("x"))
	if err != nil || res != TargetNotFound {
		t.Fatalf("Deliver = %v, %v", res, err)
	}
	if got := a.sent(); len(got) != 0 {
		t.Errorf("A received %v", got)
	}
}

// TestRegisterOverwrite verifies last-writer-wins and that the old
// connection's cleanup does not remove the newer entry.
func TestRegisterOverwrite(t *testing.T) {
	r := New()
	old := &fakeConn{id: "old"}
	fresh := &fakeConn{id: "fresh"}

	if displaced, _ := r.Register("B", old, nil); displaced != nil {
		t.Fatalf("unexpected displaced conn %v", displaced)
	}
	displaced, _ := r.Register("B", fresh, nil)
	if displaced != old {
		t.Fatalf("displaced = %v, want old", displaced)
	}

	r.Deliver("B", []byte("hi"))
	if len(old.sent()) != 0 || len(fresh.sent()) != 1 {
		t.Fatalf("old=%v fresh=%v", old.sent(), fresh.sent())
	}

	if r.UnregisterIfCurrent("B", old) {
		t.Fatal("stale connection removed the newer entry")
	}
	if _, ok := r.Lookup("B"); !ok {
		t.Fatal("entry for B disappeared")
	}

	if !r.UnregisterIfCurrent("B", fresh) {
		t.Fatal("current connection could not unregister")
	}
	if res, _ := r.Deliver("B", []byte("x")); res != TargetNotFound {
		t.Errorf("Deliver after unregister = %v", res)
	}
}

func TestRegisterAckPrecedesTraffic(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c"}
	if _, err := r.Register("A", c, []byte("ack")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Deliver("A", []byte("first"))

	got := c.sent()
	if len(got) != 2 || got[0] != "ack" || got[1] != "first" {
		t.Errorf("frames = %v", got)
	}
}

func TestDeliverQueueFull(t *testing.T) {
	r := New()
	r.Register("A", &fakeConn{id: "c", full: true}, nil)

	res, err := r.Deliver("A", []byte("x"))
	if res != Delivered || !errors.Is(err, ErrQueueFull) {
		t.Errorf("Deliver = %v, %v", res, err)
	}
}

func TestIDsSorted(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, &fakeConn{id: id}, nil)
	}
	ids := r.IDs()
	if fmt.Sprint(ids) != "[a b c]" {
		t.Errorf("IDs = %v", ids)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("peer-%d", i%5)
			c := &fakeConn{id: id}
			r.Register(id, c, nil)
			r.Deliver(fmt.Sprintf("peer-%d", (i+1)%5), []byte("x"))
			r.UnregisterIfCurrent(id, c)
		}()
	}
	wg.Wait()
}
