package presence

import (
	"context"
	"testing"
	"time"
)

var (
	_ Store = Nop{}
	_ Store = (*Redis)(nil)
)

func TestNop(t *testing.T) {
	var s Store = Nop{}
	ctx := context.Background()
	if err := s.Add(ctx, "A"); err != nil {
		t.Errorf("Add: %v", err)
	}
	if err := s.Remove(ctx, "A"); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// TestNewRedisUnreachable verifies that an unreachable server fails fast
// instead of returning a half-initialised store.
func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := NewRedis(ctx, "127.0.0.1:1")
	if err == nil {
		s.Close()
		t.Fatal("expected connection error")
	}
}
