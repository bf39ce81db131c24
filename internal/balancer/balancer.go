// Package balancer implements the selection cascade and request forwarding
// the gateway routes every pairing request through: pick the least-loaded
// healthy backend (round-robin among ties), forward the request, and
// fail over to another backend on a retryable transport error.
package balancer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/session-gateway/internal/domain"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/registry"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// Balancer selects and forwards to backends out of a Registry. It holds no
// per-request state; the round-robin cursor is the only thing shared across
// calls, and it is a plain atomic counter.
type Balancer struct {
	registry   *registry.Registry
	client     *upstream.Client
	maxRetries int
	retryDelay time.Duration
	cursor     atomic.Uint64
	log        *logger.Logger
}

// New builds a Balancer over reg, issuing forwarded calls through client.
func New(reg *registry.Registry, client *upstream.Client, maxRetries int, retryDelay time.Duration, log *logger.Logger) *Balancer {
	return &Balancer{
		registry:   reg,
		client:     client,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log.BalancerLogger(),
	}
}

// candidate pairs a backend with its freshly-observed session count.
type candidate struct {
	backend *domain.Backend
	count   int
}

// Select runs the capacity-aware selection cascade: refresh every active
// backend's session count in parallel, drop anything at or over capacity,
// and pick the minimum, breaking ties with the round-robin cursor.
func (b *Balancer) Select(ctx context.Context) (*domain.Backend, error) {
	all := b.registry.AllBackends()
	if len(all) == 0 {
		return nil, gwerrors.New(gwerrors.CodeNoActiveServers, gwerrors.CapacityMessage(gwerrors.CodeNoActiveServers, 0, 0))
	}

	active := b.registry.ActiveBackends()
	if len(active) == 0 {
		return nil, b.classifyEmptySelection(all)
	}

	candidates := b.refreshCandidates(ctx, active)
	if len(candidates) == 0 {
		return nil, b.classifyEmptySelection(b.registry.AllBackends())
	}

	minCount := candidates[0].count
	for _, c := range candidates[1:] {
		if c.count < minCount {
			minCount = c.count
		}
	}

	tied := make([]*domain.Backend, 0, len(candidates))
	for _, c := range candidates {
		if c.count == minCount {
			tied = append(tied, c.backend)
		}
	}

	if len(tied) == 1 {
		return tied[0], nil
	}

	idx := b.cursor.Add(1) % uint64(len(tied))
	return tied[idx], nil
}

// refreshCandidates fetches SessionCount for every backend in active,
// concurrently and without holding any lock across the network calls
// (SessionCount itself only takes the backend's lock to read/write state,
// never around the HTTP round trip). Backends that error out or land at/over
// capacity are dropped.
func (b *Balancer) refreshCandidates(ctx context.Context, active []*domain.Backend) []candidate {
	type result struct {
		backend *domain.Backend
		count   int
		err     error
	}
	results := make([]result, len(active))

	var wg sync.WaitGroup
	for i, backend := range active {
		wg.Add(1)
		go func(i int, backend *domain.Backend) {
			defer wg.Done()
			count, err := b.registry.SessionCount(ctx, backend.ID)
			results[i] = result{backend: backend, count: count, err: err}
		}(i, backend)
	}
	wg.Wait()

	max := b.registry.MaxSessionsPerServer()
	candidates := make([]candidate, 0, len(active))
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.backend.Status() != domain.StatusHealthy {
			continue
		}
		if r.count >= max {
			continue
		}
		candidates = append(candidates, candidate{backend: r.backend, count: r.count})
	}
	return candidates
}

// classifyEmptySelection decides which capacity error to raise once the
// cascade has found nothing selectable: ALL_FULL if every backend is FULL,
// ALL_UNAVAILABLE if every backend is UNHEALTHY, NO_ACTIVE_SERVERS for any
// other mix (some FULL, some UNHEALTHY, or otherwise nothing selectable).
func (b *Balancer) classifyEmptySelection(all []*domain.Backend) *gwerrors.GatewayError {
	fullCount := 0
	unhealthyCount := 0
	for _, backend := range all {
		switch backend.Status() {
		case domain.StatusUnhealthy:
			unhealthyCount++
		case domain.StatusFull:
			fullCount++
		}
	}

	max := b.registry.MaxSessionsPerServer()
	switch {
	case len(all) > 0 && fullCount == len(all):
		return gwerrors.New(gwerrors.CodeAllFull, gwerrors.CapacityMessage(gwerrors.CodeAllFull, max, max))
	case len(all) > 0 && unhealthyCount == len(all):
		return gwerrors.New(gwerrors.CodeAllUnavailable, gwerrors.CapacityMessage(gwerrors.CodeAllUnavailable, 0, 0))
	default:
		return gwerrors.New(gwerrors.CodeNoActiveServers, gwerrors.CapacityMessage(gwerrors.CodeNoActiveServers, 0, 0))
	}
}

// Forward selects a backend and forwards req to it, retrying on a retryable
// transport failure by reselecting and trying again up to MaxRetries
// additional times, waiting RetryDelay*(attempt+1) between attempts. It
// surfaces the last transport error if a retry's reselection itself fails.
func (b *Balancer) Forward(ctx context.Context, req upstream.ForwardRequest) (*upstream.ForwardResponse, *domain.Backend, error) {
	backend, err := b.Select(ctx)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, ferr := b.client.Forward(ctx, backend.URL, backend.ID, req, backend.PairTrailingSlash)
		if ferr == nil {
			return resp, backend, nil
		}

		kind := upstream.ClassifyError(ferr)
		lastErr = classifyTransportErr(kind, ferr)
		if upstream.IsUnhealthySignal(kind) {
			if _, err := b.registry.UpdateStatus(backend.ID, domain.StatusUnhealthy, domain.StatusPatch{Error: ferr.Error()}); err != nil {
				b.log.WithError(err).Warn("failed to mark backend unhealthy after forward failure")
			}
		}

		if attempt >= b.maxRetries {
			return nil, backend, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, backend, ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt+1)):
		}

		next, selectErr := b.Select(ctx)
		if selectErr != nil {
			return nil, backend, lastErr
		}
		backend = next
	}
}

// classifyTransportErr mirrors the registry package's mapping so both
// forwarding and probing surface the same taxonomy codes for the same
// underlying transport failures.
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
