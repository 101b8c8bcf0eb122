package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	Connections    atomic.Int64 // relay: accepted WebSocket connections
	Disconnections atomic.Int64 // relay: closed WebSocket connections
	Relayed        atomic.Int64 // relay: envelopes forwarded to another peer
	ErrorsSent     atomic.Int64 // relay: error envelopes returned to a sender
	Dropped        atomic.Int64 // relay: frames dropped on a full send queue
	BytesRecv      atomic.Int64 // peer: RTP bytes read from remote tracks
}

func (s *stats) AddConn()      { s.Connections.Add(1) }
func (s *stats) RemoveConn()   { s.Disconnections.Add(1) }
func (s *stats) AddRelayed()   { s.Relayed.Add(1) }
func (s *stats) AddError()     { s.ErrorsSent.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Connections    int64 `json:"connections"`
	Disconnections int64 `json:"disconnections"`
	Relayed        int64 `json:"relayed"`
	ErrorsSent     int64 `json:"errors_sent"`
	Dropped        int64 `json:"dropped"`
	BytesRecv      int64 `json:"bytes_recv"`
}

// Snapshot returns the current counter values.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Connections:    s.Connections.Load(),
		Disconnections: s.Disconnections.Load(),
		Relayed:        s.Relayed.Load(),
		ErrorsSent:     s.ErrorsSent.Load(),
		Dropped:        s.Dropped.Load(),
		BytesRecv:      s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs counter deltas every 10
// seconds, skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if line, ok := formatStats(prev, cur); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the delta between two snapshots. ok is false when
// nothing happened during the interval.
func formatStats(prev, cur Snapshot) (string, bool) {
	conn := cur.Connections - prev.Connections
	disc := cur.Disconnections - prev.Disconnections
	relayed := cur.Relayed - prev.Relayed
	errs := cur.ErrorsSent - prev.ErrorsSent
	dropped := cur.Dropped - prev.Dropped
	recv := float64(cur.BytesRecv-prev.BytesRecv) / reportInterval.Seconds()

	if conn == 0 && disc == 0 && relayed == 0 && errs == 0 && dropped == 0 && recv <= 10 {
		return "", false
	}

	return fmt.Sprintf("Conn: %2d↑ %2d↓ | Relayed: %4d | Errors: %3d | Dropped: %3d | Media In: %s/s",
		conn,
		disc,
		relayed,
		errs,
		dropped,
		formatBytes(recv),
	), true
}
