// Package sessionindex implements the gateway's sessionId -> backendId hint
// map. It is advisory: entries can go stale relative to the authoritative
// state on the backends, and every consumer is expected to tolerate that and
// self-heal via a probe.
package sessionindex

import "sync"

// Index is a concurrency-safe sessionId -> backendId map.
type Index struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New creates an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]string)}
}

// Set inserts or overwrites the hint for sessionID, last-writer-wins.
func (idx *Index) Set(sessionID, backendID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[sessionID] = backendID
}

// Get returns the backend hint for sessionID, and whether one is present.
func (idx *Index) Get(sessionID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	backendID, ok := idx.entries[sessionID]
	return backendID, ok
}

// Delete removes the hint for sessionID, if any.
func (idx *Index) Delete(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, sessionID)
}

// Len returns the number of entries currently tracked.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a copy of the full sessionId -> backendId map, used by
// the health/stats surfaces.
func (idx *Index) Snapshot() map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]string, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// DeleteByBackend drops every entry pointing at backendID, used when a
// backend is discovered to be entirely gone from the fleet's view (not
// currently reachable via any inbound operation, but kept for completeness
// alongside ResetToHealthy-style forced admin actions).
func (idx *Index) DeleteByBackend(backendID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	removed := 0
	for sessionID, b := range idx.entries {
		if b == backendID {
			delete(idx.entries, sessionID)
			removed++
		}
	}
	return removed
}
