// Package registry implements the server registry and session index the
// gateway is built around: the fixed backend fleet's health/session state,
// and the advisory sessionId -> backendId hint map used to shortcut
// cross-backend session lookups.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/session-gateway/internal/domain"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/sessionindex"
	"github.com/mir00r/session-gateway/internal/ttlcache"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// Registry owns the fixed backend fleet and the session index built on top
// of it. Its backend order is fixed at construction time and never changes,
// which is what lets the balancer's round-robin cursor stay meaningful.
type Registry struct {
	backends    []*domain.Backend
	byID        map[string]*domain.Backend
	cache       *ttlcache.Cache[int]
	cacheTTL    time.Duration
	index       *sessionindex.Index
	client      *upstream.Client
	log         *logger.Logger
	maxSessions int
}

// New builds a Registry over urls, addressing each backend by its 1-based
// position ("server-1", "server-2", ...) per the gateway's fixed-fleet model.
// cacheTTL governs how long a probed session count is served from cache
// before SessionCount re-probes; a non-positive value falls back to
// ttlcache.DefaultTTL.
func New(urls []string, cache *ttlcache.Cache[int], index *sessionindex.Index, client *upstream.Client, log *logger.Logger, maxSessions int, cacheTTL time.Duration) *Registry {
	backends := make([]*domain.Backend, 0, len(urls))
	byID := make(map[string]*domain.Backend, len(urls))
	for i, url := range urls {
		id := fmt.Sprintf("server-%d", i+1)
		b := domain.NewBackend(id, url)
		backends = append(backends, b)
		byID[id] = b
	}
	if cacheTTL <= 0 {
		cacheTTL = ttlcache.DefaultTTL
	}
	return &Registry{
		backends:    backends,
		byID:        byID,
		cache:       cache,
		cacheTTL:    cacheTTL,
		index:       index,
		client:      client,
		log:         log.RegistryLogger(),
		maxSessions: maxSessions,
	}
}

// MaxSessionsPerServer returns the configured per-backend capacity.
func (r *Registry) MaxSessionsPerServer() int { return r.maxSessions }

// InvalidateCache drops the cached session count for backend id, forcing the
// next SessionCount call to re-probe regardless of TTL freshness.
func (r *Registry) InvalidateCache(id string) {
	r.cache.Delete(id)
}

// AllBackends returns every configured backend, in fixed fleet order.
func (r *Registry) AllBackends() []*domain.Backend {
	out := make([]*domain.Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// ActiveBackends returns the subset of backends currently HEALTHY, in fixed
// fleet order.
func (r *Registry) ActiveBackends() []*domain.Backend {
	out := make([]*domain.Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out
}

// Get looks up a backend by id.
func (r *Registry) Get(id string) (*domain.Backend, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// UpdateStatus applies a status transition to backend id and invalidates its
// cached session count, since the patch may itself carry a fresher count.
func (r *Registry) UpdateStatus(id string, status domain.Status, patch domain.StatusPatch) (domain.Status, error) {
	b, ok := r.byID[id]
	if !ok {
		return 0, gwerrors.New(gwerrors.CodeNotFound, fmt.Sprintf("unknown backend %q", id))
	}
	prev := b.ApplyStatus(status, patch)
	r.cache.Delete(id)

	if status == domain.StatusUnhealthy && prev != domain.StatusUnhealthy {
		r.log.BackendLogger(id, b.URL).Warn("backend transitioned to unhealthy")
	}
	return prev, nil
}

// ResetToHealthy forces backend id back to HEALTHY, used by the admin reset
// operation. It invalidates the cached session count so the next read
// re-probes.
func (r *Registry) ResetToHealthy(id string) error {
	b, ok := r.byID[id]
	if !ok {
		return gwerrors.New(gwerrors.CodeNotFound, fmt.Sprintf("unknown backend %q", id))
	}
	b.ResetToHealthy()
	r.cache.Delete(id)
	r.log.BackendLogger(id, b.URL).Info("backend force-reset to healthy")
	return nil
}

// RecordSession inserts sessionID into backend id's in-memory session set and
// the advisory session index, keeping both in step. It is what a successful
// pair response feeds, so a session survives an intervening health sweep's
// wholesale replacement of the backend's session set without losing its
// index entry.
func (r *Registry) RecordSession(id, sessionID string) {
	b, ok := r.byID[id]
	if !ok {
		return
	}
	b.InsertSession(sessionID)
	r.index.Set(sessionID, id)
}

// SessionCount returns backend id's session count, serving from the TTL
// cache when fresh and probing the backend directly on a miss. A refused,
// timed-out or aborted probe marks the backend UNHEALTHY; every probe failure
// is returned as a classified error.
func (r *Registry) SessionCount(ctx context.Context, id string) (int, error) {
	b, ok := r.byID[id]
	if !ok {
		return 0, gwerrors.New(gwerrors.CodeNotFound, fmt.Sprintf("unknown backend %q", id))
	}

	if count, ok := r.cache.Get(id); ok {
		return count, nil
	}

	sessions, elapsed, _, err := r.client.ListSessions(ctx, b.URL)
	if err != nil {
		kind := upstream.ClassifyError(err)
		errMsg := err.Error()
		if upstream.IsUnhealthySignal(kind) {
			b.ApplyStatus(domain.StatusUnhealthy, domain.StatusPatch{Error: errMsg})
		}
		return 0, classifyTransportErr(kind, err)
	}

	count := len(sessions)
	responseMs := elapsed.Milliseconds()
	newStatus := domain.StatusHealthy
	if count >= r.maxSessions {
		newStatus = domain.StatusFull
	}
	b.ApplyStatus(newStatus, domain.StatusPatch{
		SessionCount:   &count,
		Sessions:       sessions,
		ResponseTimeMs: &responseMs,
	})

	r.cache.Set(id, count, r.cacheTTL)
	for _, sid := range sessions {
		r.index.Set(sid, id)
	}
	return count, nil
}

// FindSessionBackend resolves the backend currently holding sessionID using
// a three-stage cascade: trust the advisory index
// hint outright, fall back to scanning the in-memory session sets (repairing
// the index if a match turns up), and finally probe every non-UNHEALTHY
// backend sequentially (a FULL backend still legitimately holds sessions,
// only UNHEALTHY ones are skipped). The first two stages report cached=true;
// only a probe-driven match in the third stage reports cached=false.
func (r *Registry) FindSessionBackend(ctx context.Context, sessionID string) (backend *domain.Backend, cached bool, err error) {
	if hint, ok := r.index.Get(sessionID); ok {
		if b, ok := r.byID[hint]; ok {
			return b, true, nil
		}
	}

	for _, b := range r.backends {
		if b.HasSession(sessionID) {
			r.index.Set(sessionID, b.ID)
			return b, true, nil
		}
	}

	for _, b := range r.backends {
		if b.Status() == domain.StatusUnhealthy {
			continue
		}
		if _, err := r.SessionCount(ctx, b.ID); err != nil {
			continue
		}
		if b.HasSession(sessionID) {
			r.index.Set(sessionID, b.ID)
			return b, false, nil
		}
	}

	return nil, false, gwerrors.New(gwerrors.CodeNotFound, fmt.Sprintf("session %q not found on any backend", sessionID))
}

// DeleteSession logs sessionID out on its owning backend and removes it from
// local state. On an upstream 404 the local state is still cleaned up and the
// 404 is then surfaced as an upstream error. Returns the backend id sessionID
// was removed from.
func (r *Registry) DeleteSession(ctx context.Context, sessionID string) (string, error) {
	b, _, err := r.FindSessionBackend(ctx, sessionID)
	if err != nil {
		return "", err
	}

	status, body, err := r.client.Logout(ctx, b.URL, sessionID, nil)
	if err != nil {
		kind := upstream.ClassifyError(err)
		if upstream.IsUnhealthySignal(kind) {
			b.ApplyStatus(domain.StatusUnhealthy, domain.StatusPatch{Error: err.Error()})
		}
		return "", classifyTransportErr(kind, err)
	}

	if (status < 200 || status >= 300) && status != 404 {
		return "", gwerrors.Upstream(status, body)
	}

	b.RemoveSession(sessionID)
	r.index.Delete(sessionID)
	r.cache.Delete(b.ID)
	if status == 404 {
		return "", gwerrors.Upstream(status, body)
	}
	b.IncrementDeletedSessions()

	return b.ID, nil
}

// Totals returns the number of active backends and the sum of every
// backend's last-observed session count.
func (r *Registry) Totals() (activeCount, totalSessions int) {
	for _, b := range r.backends {
		if b.IsActive() {
			activeCount++
		}
		totalSessions += b.SessionCount()
	}
	return activeCount, totalSessions
}

// Stats is the aggregate view GET /stats renders.
type Stats struct {
	TotalBackends   int
	ActiveBackends  int
	TotalSessions   int
	Backends        []domain.Snapshot
	IndexEntries    int
}

// Stats renders the aggregate registry view.
func (r *Registry) Stats() Stats {
	snapshots := make([]domain.Snapshot, len(r.backends))
	active := 0
	total := 0
	for i, b := range r.backends {
		snap := b.Snapshot()
		snapshots[i] = snap
		if snap.IsActive {
			active++
		}
		total += snap.SessionCount
	}
	return Stats{
		TotalBackends:  len(r.backends),
		ActiveBackends: active,
		TotalSessions:  total,
		Backends:       snapshots,
		IndexEntries:   r.index.Len(),
	}
}

// IndexInfo summarizes the session index for diagnostics: total entries and
// how many are stale, i.e. point at a backend outside the fixed fleet or at a
// backend whose in-memory session set does not currently hold the session.
type IndexInfo struct {
	Entries int
	Stale   int
}

// IndexInfo reports the session index's current size and staleness.
func (r *Registry) IndexInfo() IndexInfo {
	snapshot := r.index.Snapshot()
	stale := 0
	for sessionID, backendID := range snapshot {
		b, ok := r.byID[backendID]
		if !ok || !b.HasSession(sessionID) {
			stale++
		}
	}
	return IndexInfo{Entries: len(snapshot), Stale: stale}
}

// classifyTransportErr wraps a client-level transport error into the
// matching GatewayError code so downstream error handling stays in terms of
// the taxonomy instead of raw errors.
func classifyTransportErr(kind upstream.ErrorKind, err error) *gwerrors.GatewayError {
	switch kind {
	case upstream.KindRefused:
		return gwerrors.Wrap(gwerrors.CodeTransportRefused, "backend connection refused", err)
	case upstream.KindTimeout:
		return gwerrors.Wrap(gwerrors.CodeTransportTimeout, "backend request timed out", err)
	case upstream.KindAborted:
		return gwerrors.Wrap(gwerrors.CodeTransportAborted, "backend connection aborted", err)
	default:
		return gwerrors.Wrap(gwerrors.CodeTransportOther, "backend request failed", err)
	}
}

// ParsePositionFromID extracts the 1-based fleet position encoded in a
// "server-N" backend id. The admin routes look backends up by their full id
// through Get and do not call it.
func ParsePositionFromID(id string) (int, bool) {
	trimmed := strings.TrimPrefix(id, "server-")
	if trimmed == id {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
