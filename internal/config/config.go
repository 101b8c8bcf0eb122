// Package config holds the relay and peer configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
)

// Environment variables consulted for flag defaults.
const (
	EnvAddr      = "PEERLINK_ADDR"
	EnvTLSAddr   = "PEERLINK_TLS_ADDR"
	EnvCert      = "PEERLINK_CERT"
	EnvKey       = "PEERLINK_KEY"
	EnvJWTSecret = "PEERLINK_JWT_SECRET"
	EnvRedisAddr = "PEERLINK_REDIS_ADDR"
	EnvServer    = "PEERLINK_SERVER"
	EnvToken     = "PEERLINK_TOKEN"
)

const (
	DefaultAddr             = ":8080"
	DefaultServer           = "ws://127.0.0.1:8080/ws"
	DefaultICEServer        = "stun:stun.l.google.com:19302"
	DefaultDataChannelLabel = "chat"
)

// Relay configures the signaling relay. Each listener runs only when its
// address is set; at least one of them is required.
type Relay struct {
	Addr      string // plain ws:// listen address, empty to disable
	TLSAddr   string // wss:// listen address, empty to disable
	CertFile  string // PEM certificate for TLSAddr
	KeyFile   string // PEM private key for TLSAddr
	JWTSecret string // HS256 secret; empty disables upgrade auth
	RedisAddr string // presence mirror, empty to disable
}

// Validate reports configuration errors.
func (c Relay) Validate() error {
	if c.Addr == "" && c.TLSAddr == "" {
		return errors.New("no listen address configured")
	}
	if c.TLSAddr != "" && (c.CertFile == "" || c.KeyFile == "") {
		return errors.New("TLS listener requires both certificate and key paths")
	}
	if c.TLSAddr == "" && (c.CertFile != "" || c.KeyFile != "") {
		return errors.New("certificate/key given without a TLS listen address")
	}
	return nil
}

// Peer configures one negotiating client.
type Peer struct {
	ServerURL        string // relay URL (ws:// or wss://)
	Token            string // optional JWT passed as ?token=
	LocalID          string // this peer's id
	RemoteID         string // the peer to negotiate with
	UseCamera        bool   // send a local video track
	UseMic           bool   // send a local audio track
	ICEServer        string // STUN/TURN URL
	DataChannelLabel string // outbound data channel, empty for none
	Greeting         bool   // send "hello-from-<id>" on every opened data channel
}

// Validate reports configuration errors.
func (c Peer) Validate() error {
	if c.LocalID == "" {
		return errors.New("missing local peer id")
	}
	if c.RemoteID == "" {
		return errors.New("missing remote peer id")
	}
	if c.LocalID == c.RemoteID {
		return fmt.Errorf("local and remote peer id are both %q", c.LocalID)
	}
	if _, err := NormalizeRelayURL(c.ServerURL); err != nil {
		return err
	}
	return nil
}

// DialURL returns the relay URL including the optional token query.
func (c Peer) DialURL() (string, error) {
	raw, err := NormalizeRelayURL(c.ServerURL)
	if err != nil {
		return "", err
	}
	if c.Token == "" {
		return raw, nil
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	q.Set("token", c.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NormalizeRelayURL validates a relay URL. A bare host defaults to ws://,
// http(s) schemes are mapped to ws(s), and the path is kept as given.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty relay URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// GetEnv returns the environment value for key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GeneratePeerID returns a readable random id such as "brave-otter" for
// peers started without -id.
func GeneratePeerID() string {
	return petname.Generate(2, "-")
}
