package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// RunPeer orchestrates one peer's lifecycle:
//  1. Register with the relay (hello / hello-ok)
//  2. Create the PeerConnection with the configured local media
//  3. Negotiate with the remote peer until ctx is cancelled
//
// Registration happens before the PeerConnection exists so that engine
// events never race the handshake.
func RunPeer(ctx context.Context, cfg config.Peer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── 1. Register ────────────────────────────────────────────────────
	client := signaling.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	// ── 2. Media engine ────────────────────────────────────────────────
	engine, err := media.NewEngine(cfg, client.Emit)
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}
	defer engine.Close()

	util.StartStatsReporter(ctx)
	util.LogInfo("waiting to negotiate with %s", cfg.RemoteID)

	// ── 3. Negotiate ───────────────────────────────────────────────────
	err = client.Run(ctx, engine, media.Sink{})
	util.LogInfo("[WEBRTC] session with %s ended, PeerConnection %s", cfg.RemoteID, engine.ConnectionState())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
