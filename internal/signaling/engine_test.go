package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/negotiation"
)

// mediaPeer is a client driving a real pion engine, started the same way
// the peer command does it.
type mediaPeer struct {
	client *Client
	engine *media.Engine
}

func connectPeer(t *testing.T, url, local, remote string) *Client {
	t.Helper()
	c := NewClient(config.Peer{ServerURL: url, LocalID: local, RemoteID: remote, DataChannelLabel: "chat"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect %s: %v", local, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func runMediaPeer(t *testing.T, c *Client) *mediaPeer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine, err := media.NewEngine(c.cfg, c.Emit)
	if err != nil {
		t.Fatalf("NewEngine %s: %v", c.cfg.LocalID, err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	go c.Run(ctx, engine, media.Sink{})
	return &mediaPeer{client: c, engine: engine}
}

func waitConnected(t *testing.T, peers ...*mediaPeer) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		done := true
		for _, p := range peers {
			if p.client.Phase() != negotiation.Connected || p.engine.ConnectionState() != webrtc.PeerConnectionStateConnected {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	for _, p := range peers {
		t.Errorf("%s: phase=%s pc=%s", p.client.cfg.LocalID, p.client.Phase(), p.engine.ConnectionState())
	}
	t.FailNow()
}

func TestMediaPeersConnectWhenCalleeArrivesLater(t *testing.T) {
	url := startRelay(t)

	// alice's first offer bounces off the relay and is discarded.
	alice := runMediaPeer(t, connectPeer(t, url, "alice", "bob"))
	time.Sleep(300 * time.Millisecond)

	bob := runMediaPeer(t, connectPeer(t, url, "bob", "alice"))
	waitConnected(t, alice, bob)
}

func TestMediaPeersConnectAfterOfferCollision(t *testing.T) {
	url := startRelay(t)

	// Both are registered before either engine exists, so both offer.
	aliceConn := connectPeer(t, url, "alice", "bob")
	bobConn := connectPeer(t, url, "bob", "alice")

	alice := runMediaPeer(t, aliceConn)
	bob := runMediaPeer(t, bobConn)
	waitConnected(t, alice, bob)
}
