// Package registry maps peer ids to their live relay connections.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrQueueFull is returned by Conn.Send when the connection cannot accept
// more outbound frames.
var ErrQueueFull = errors.New("send queue full")

// Conn is a registered connection. Send must not block: it enqueues the
// frame for the connection's writer.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// RouteResult is the outcome of Deliver.
type RouteResult int

const (
	Delivered RouteResult = iota
	TargetNotFound
)

func (r RouteResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetNotFound:
		return "target-not-found"
	}
	return "unknown"
}

// Registry maintains the peerID → connection table. Every operation holds
// the same lock, so register, deliver and unregister are atomic with respect
// to each other.
type Registry struct {
	mu    sync.Mutex
	peers map[string]Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		peers: make(map[string]Conn),
	}
}

// Register inserts or replaces the entry for id. The previous holder, if any,
// is returned but not notified. When ack is non-nil it is enqueued on conn
// before the entry becomes visible to Deliver.
func (r *Registry) Register(id string, conn Conn, ack []byte) (displaced Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ack != nil {
		err = conn.Send(ack)
	}

	prev, ok := r.peers[id]
	r.peers[id] = conn
	if ok && prev != conn {
		displaced = prev
	}
	return displaced, err
}

// Deliver enqueues frame on the connection registered under to.
func (r *Registry) Deliver(to string, frame []byte) (RouteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.peers[to]
	if !ok {
		return TargetNotFound, nil
	}
	return Delivered, conn.Send(frame)
}

// Lookup returns the connection registered under id.
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.peers[id]
	return conn, ok
}

// UnregisterIfCurrent removes id only while it still points at conn, so a
// newer connection that reused the id is left alone.
func (r *Registry) UnregisterIfCurrent(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[id]; ok && cur == conn {
		delete(r.peers, id)
		return true
	}
	return false
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// IDs returns the registered peer ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}
