// Package monitor implements the health monitor: a periodic sweep that
// probes every configured backend's session inventory, feeding the results
// back into the registry as status transitions.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mir00r/session-gateway/internal/domain"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/registry"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// Monitor runs the periodic health sweep. Start is idempotent: calling it
// more than once on a running Monitor is a no-op.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Monitor that sweeps reg's fleet every interval.
func New(reg *registry.Registry, interval time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		interval: interval,
		log:      log.MonitorLogger(),
	}
}

// Start begins the periodic sweep: one immediate pass, then one every
// interval, until ctx is cancelled or Stop is called. Calling Start again
// while already running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("monitor already running, ignoring duplicate start")
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(sweepCtx)
}

// Stop cancels the running sweep loop and waits for it to exit. Probes of a
// sweep already in flight are not cancelled; Stop waits for them to finish or
// time out. Calling Stop on a Monitor that was never started is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// IsRunning reports whether the sweep loop is currently active, used by the
// health snapshot to describe the monitor's own state.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the configured sweep cadence, used by the health
// snapshot to describe the monitor's own state.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	probeCtx := context.WithoutCancel(ctx)
	m.sweep(probeCtx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(probeCtx)
		}
	}
}

// sweep probes every configured backend in parallel; a backend probe never
// blocks another's.
func (m *Monitor) sweep(ctx context.Context) {
	backends := m.registry.AllBackends()
	var wg sync.WaitGroup
	for _, backend := range backends {
		wg.Add(1)
		go func(id, url string) {
			defer wg.Done()
			if err := m.CheckServer(ctx, id); err != nil {
				m.log.BackendLogger(id, url).WithError(err).Debug("health probe failed")
			}
		}(backend.ID, backend.URL)
	}
	wg.Wait()
}

// CheckServer probes a single backend by id, forcing its cached session
// count to refresh regardless of TTL freshness. Any probe failure, including
// a non-200 response, marks the backend UNHEALTHY with the error captured. It
// is exposed directly for the targeted admin health-check operation.
func (m *Monitor) CheckServer(ctx context.Context, id string) error {
	backend, ok := m.registry.Get(id)
	if !ok {
		return gwerrors.New(gwerrors.CodeNotFound, fmt.Sprintf("unknown backend %q", id))
	}
	m.registry.InvalidateCache(id)
	if _, err := m.registry.SessionCount(ctx, backend.ID); err != nil {
		if _, uerr := m.registry.UpdateStatus(id, domain.StatusUnhealthy, domain.StatusPatch{Error: err.Error()}); uerr != nil {
			m.log.WithError(uerr).Warn("failed to mark backend unhealthy after probe failure")
		}
		return err
	}
	return nil
}
