// Package presence tracks which identities currently hold a live session.
package presence

import (
	"context"
	"sync"

	apperrors "relaybox/internal/errors"
	"relaybox/internal/metrics"
	"relaybox/internal/models"
)

// Channel is the live handle a registry entry points at. Sessions implement it.
type Channel interface {
	Identity() string
	// Deliver forwards msg and blocks until the peer acknowledges it or ctx ends.
	Deliver(ctx context.Context, msg *models.Message) error
	Closed() bool
	Close(reason string)
}

// Registry maps identity to its single live channel
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Channel
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Channel)}
}

// Register binds identity to ch. It fails with a ConflictError when identity is
// held by a different channel that is still open; a closed leftover entry is replaced.
// Registering the same channel twice is a no-op.
func (r *Registry) Register(identity string, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[identity]; ok && current != ch && !current.Closed() {
		return apperrors.NewConflictError(identity)
	}

	r.entries[identity] = ch
	r.publish()
	return nil
}

// Lookup returns the open channel for identity
func (r *Registry) Lookup(identity string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.entries[identity]
	if !ok || ch.Closed() {
		return nil, false
	}
	return ch, true
}

// Unregister removes identity only if its entry still points at ch, so a
// superseded session cannot evict its successor. It reports whether an entry was removed.
func (r *Registry) Unregister(identity string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[identity]; !ok || current != ch {
		return false
	}

	delete(r.entries, identity)
	r.publish()
	return true
}

// Count returns the number of registered identities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Drain empties the registry and closes every channel it held. Used at shutdown.
func (r *Registry) Drain(reason string) int {
	r.mu.Lock()
	channels := make([]Channel, 0, len(r.entries))
	for _, ch := range r.entries {
		channels = append(channels, ch)
	}
	r.entries = make(map[string]Channel)
	r.publish()
	r.mu.Unlock()

	// Close outside the lock; sessions call Unregister while closing.
	for _, ch := range channels {
		ch.Close(reason)
	}
	return len(channels)
}

// publish exports the registry size. Caller holds mu.
func (r *Registry) publish() {
	metrics.SetGauge("presence_sessions", float64(len(r.entries)), nil, "Identities with a live session")
}
