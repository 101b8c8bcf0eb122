// Package app contains the top-level orchestration for the relay and peer
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/presence"
	"github.com/1ureka/peerlink/internal/registry"
	"github.com/1ureka/peerlink/internal/relay"
	"github.com/1ureka/peerlink/internal/util"
)

// RunRelay serves the signaling relay until ctx is cancelled:
//  1. Connect the presence mirror (Redis, when configured)
//  2. Start the stats reporter
//  3. Serve plain and TLS WebSocket listeners
func RunRelay(ctx context.Context, cfg config.Relay) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── 1. Presence ────────────────────────────────────────────────────
	var store presence.Store = presence.Nop{}
	if cfg.RedisAddr != "" {
		rs, err := presence.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect presence store: %w", err)
		}
		store = rs
		util.LogInfo("mirroring presence to redis at %s", cfg.RedisAddr)
	}
	defer store.Close()

	// ── 2. Stats ───────────────────────────────────────────────────────
	util.StartStatsReporter(ctx)

	// ── 3. Serve ───────────────────────────────────────────────────────
	srv := relay.NewServer(cfg, relay.New(registry.New(), store))
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("relay stopped: %w", err)
	}

	util.LogInfo("signaling relay shut down")
	return nil
}
