// Command peer is one peerlink endpoint.
//
// A peer registers with the relay under -id and negotiates a WebRTC session
// with -peer. Either side may start first; whichever engine asks for
// negotiation while the other is online sends the offer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/peerlink/internal/app"
	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config.Peer
	flag.StringVar(&cfg.ServerURL, "server", config.GetEnv(config.EnvServer, config.DefaultServer), "Relay WebSocket URL")
	flag.StringVar(&cfg.LocalID, "id", "", "This peer's id (random when empty)")
	flag.StringVar(&cfg.RemoteID, "peer", "", "Remote peer id (required)")
	noCamera := flag.Bool("no-camera", false, "Receive video only")
	noMic := flag.Bool("no-mic", false, "Receive audio only")
	flag.StringVar(&cfg.ICEServer, "stun", config.DefaultICEServer, "STUN server URL; empty for host candidates only")
	flag.StringVar(&cfg.DataChannelLabel, "data-channel", config.DefaultDataChannelLabel, "Outbound data channel label; empty for none")
	flag.BoolVar(&cfg.Greeting, "greet", true, "Send hello-from-<id> on every opened data channel")
	flag.StringVar(&cfg.Token, "token", config.GetEnv(config.EnvToken, ""), "JWT for relays that require auth")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg.UseCamera = !*noCamera
	cfg.UseMic = !*noMic
	if cfg.LocalID == "" {
		cfg.LocalID = config.GeneratePeerID()
	}

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("peerlink peer v%s", version))
	pterm.Println()
	pterm.DefaultBox.WithTitle("Session").Println(fmt.Sprintf("Peer ID : %s\nRemote  : %s\nRelay   : %s", cfg.LocalID, cfg.RemoteID, cfg.ServerURL))
	pterm.Println()

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		flag.Usage()
		os.Exit(2)
	}

	if err := app.RunPeer(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("peer %s stopped", cfg.LocalID)
}
