// Command relay is the peerlink signaling relay.
//
// The relay registers peers by id and routes SDP offers, answers and ICE
// candidates between them over WebSocket. It never inspects session
// descriptions and keeps no state across restarts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
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

	var cfg config.Relay
	flag.StringVar(&cfg.Addr, "addr", config.GetEnv(config.EnvAddr, config.DefaultAddr), "Plain WebSocket listen address")
	flag.StringVar(&cfg.TLSAddr, "tls-addr", config.GetEnv(config.EnvTLSAddr, ""), "TLS WebSocket listen address (requires -cert and -key)")
	flag.StringVar(&cfg.CertFile, "cert", config.GetEnv(config.EnvCert, ""), "PEM certificate for the TLS listener")
	flag.StringVar(&cfg.KeyFile, "key", config.GetEnv(config.EnvKey, ""), "PEM private key for the TLS listener")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", config.GetEnv(config.EnvJWTSecret, ""), "HS256 secret required on upgrade; empty disables auth")
	flag.StringVar(&cfg.RedisAddr, "redis", config.GetEnv(config.EnvRedisAddr, ""), "Redis address for the presence mirror; empty disables it")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	pterm.Info.Println(fmt.Sprintf("peerlink relay v%s", version))
	pterm.Println()

	if err := app.RunRelay(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
