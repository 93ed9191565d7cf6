// Package ratelimit implements per-client sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

// maxClients is the point at which Admit sweeps idle client histories
// before recording a new one, so a gate cannot grow without bound under
// high client cardinality.
const maxClients = 4096

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole number of seconds until the oldest recorded
	// request leaves the window. Zero or positive; meaningful only on reject.
	RetryAfter int
}

// Gate admits at most limit requests per client within a trailing window.
// State is process-local and independent of any other Gate instance.
type Gate struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
}

// New creates a gate allowing limit requests per windowSeconds per client.
func New(limit, windowSeconds int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	return &Gate{
		limit:   limit,
		window:  time.Duration(windowSeconds) * time.Second,
		clients: make(map[string][]time.Time),
	}
}

// Admit records the request for clientID at now if the client is under its
// limit. Timestamps older than the window are purged lazily on each call.
func (g *Gate) Admit(clientID string, now time.Time) Decision {
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()

	history := g.clients[clientID]
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= g.limit {
		g.clients[clientID] = kept
		retry := int((g.window - now.Sub(kept[0])).Seconds())
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	if len(kept) == 0 && len(g.clients) >= maxClients {
		g.sweepLocked(cutoff)
	}
	g.clients[clientID] = append(kept, now)
	return Decision{Allowed: true}
}

// sweepLocked drops every client whose newest timestamp has left the window.
// Called with g.mu held.
func (g *Gate) sweepLocked(cutoff time.Time) {
	for id, history := range g.clients {
		if len(history) == 0 || !history[len(history)-1].After(cutoff) {
			delete(g.clients, id)
		}
	}
}

// Size returns the number of tracked clients.
func (g *Gate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
