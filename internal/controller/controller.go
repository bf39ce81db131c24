// Package controller wires the balancer, registry and monitor into the
// operations the gateway's HTTP surface exposes: pairing, session lookup,
// session deletion, and the health/stats/servers/total-sessions diagnostics.
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/mir00r/session-gateway/internal/domain"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/monitor"
	"github.com/mir00r/session-gateway/internal/registry"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// Forwarder is the subset of *balancer.Balancer the controller depends on,
// kept as an interface so tests can inject a fake instead of standing up a
// real registry and HTTP servers.
type Forwarder interface {
	Forward(ctx context.Context, req upstream.ForwardRequest) (*upstream.ForwardResponse, *domain.Backend, error)
}

// Controller is the collaborator injected into the HTTP layer; it holds no
// package-level singletons, per the gateway's injected-collaborators design.
type Controller struct {
	registry  *registry.Registry
	balancer  Forwarder
	monitor   *monitor.Monitor
	log       *logger.Logger
	startedAt time.Time
}

// New builds a Controller over its three collaborators.
func New(reg *registry.Registry, bal Forwarder, mon *monitor.Monitor, log *logger.Logger) *Controller {
	return &Controller{
		registry:  reg,
		balancer:  bal,
		monitor:   mon,
		log:       log.ControllerLogger(),
		startedAt: time.Now(),
	}
}

// PairResult is what a successful Pair call returns to the HTTP layer.
type PairResult struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	BackendID  string
}

// Pair forwards the pairing request req to the least-loaded healthy backend
// and, if the upstream response reports a session id, records it in the
// session index. An empty upstream body is reported as an upstream error (502).
func (c *Controller) Pair(ctx context.Context, req upstream.ForwardRequest) (*PairResult, error) {
	resp, backend, err := c.balancer.Forward(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, gwerrors.New(gwerrors.CodeUpstream, "empty response from upstream")
	}

	if sessionID, ok := upstream.PairSessionID(resp.Body); ok {
		c.registry.RecordSession(backend.ID, sessionID)
	}

	return &PairResult{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Headers:    resp.Headers,
		BackendID:  backend.ID,
	}, nil
}

// DeleteSession logs sessionID out on its owning backend.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) (backendID string, err error) {
	return c.registry.DeleteSession(ctx, sessionID)
}

// SessionLocation is what a resolved findSession call returns: the owning
// backend's snapshot and whether the resolution came from the index/local
// session sets (cached) or required a fresh probe.
type SessionLocation struct {
	Server domain.Snapshot
	Cached bool
}

// FindSession resolves the backend currently holding sessionID.
func (c *Controller) FindSession(ctx context.Context, sessionID string) (SessionLocation, error) {
	backend, cached, err := c.registry.FindSessionBackend(ctx, sessionID)
	if err != nil {
		return SessionLocation{}, err
	}
	return SessionLocation{Server: backend.Snapshot(), Cached: cached}, nil
}

// HealthStatus is the payload GET /health renders: a read-only snapshot of
// the registry, the load balancer, the health monitor and the session index.
type HealthStatus struct {
	Status         string             `json:"status"`
	Summary        HealthSummary      `json:"summary"`
	Servers        []domain.Snapshot  `json:"servers"`
	LoadBalancer   LoadBalancerStatus `json:"loadBalancer"`
	HealthMonitor  HealthMonitorState `json:"healthMonitor"`
	SessionMapping registry.IndexInfo `json:"sessionMapping"`
	Timestamp      time.Time          `json:"timestamp"`
}

// HealthSummary is the top-line fleet count health rolls up to.
type HealthSummary struct {
	TotalBackends  int `json:"totalBackends"`
	ActiveBackends int `json:"activeBackends"`
}

// LoadBalancerStatus describes the selection strategy's shape and the
// capacity ceiling it enforces.
type LoadBalancerStatus struct {
	Strategy             string `json:"strategy"`
	MaxSessionsPerServer int    `json:"maxSessionsPerServer"`
	ActiveBackends       int    `json:"activeBackends"`
}

// HealthMonitorState reports the sweep loop's own running state.
type HealthMonitorState struct {
	Running        bool  `json:"running"`
	IntervalMillis int64 `json:"intervalMillis"`
}

// Health reports the overall fleet status: healthy if every backend is
// active, degraded if some but not all are, unhealthy if none are. It also
// renders the load-balancer, health-monitor and session-index state as a
// read-only diagnostic snapshot, since health() is documented to cover all
// four collaborators, not just the fleet count.
func (c *Controller) Health() HealthStatus {
	all := c.registry.AllBackends()
	active, _ := c.registry.Totals()

	status := "healthy"
	switch {
	case active == 0:
		status = "unhealthy"
	case active < len(all):
		status = "degraded"
	}

	servers := make([]domain.Snapshot, len(all))
	for i, b := range all {
		servers[i] = b.Snapshot()
	}

	return HealthStatus{
		Status: status,
		Summary: HealthSummary{
			TotalBackends:  len(all),
			ActiveBackends: active,
		},
		Servers: servers,
		LoadBalancer: LoadBalancerStatus{
			Strategy:             "least-loaded, capacity-aware, round-robin tiebreak",
			MaxSessionsPerServer: c.registry.MaxSessionsPerServer(),
			ActiveBackends:       active,
		},
		HealthMonitor: HealthMonitorState{
			Running:        c.monitor.IsRunning(),
			IntervalMillis: c.monitor.Interval().Milliseconds(),
		},
		SessionMapping: c.registry.IndexInfo(),
		Timestamp:      time.Now().UTC(),
	}
}

// Stats returns the aggregate registry view GET /stats renders.
func (c *Controller) Stats() registry.Stats {
	return c.registry.Stats()
}

// Servers returns every backend's current snapshot for GET /servers.
func (c *Controller) Servers() []domain.Snapshot {
	all := c.registry.AllBackends()
	out := make([]domain.Snapshot, len(all))
	for i, b := range all {
		out[i] = b.Snapshot()
	}
	return out
}

// ServerByID returns a single backend's snapshot for the supplemented
// GET /servers/{id} detail view.
func (c *Controller) ServerByID(id string) (domain.Snapshot, error) {
	b, ok := c.registry.Get(id)
	if !ok {
		return domain.Snapshot{}, gwerrors.New(gwerrors.CodeNotFound, "unknown backend "+id)
	}
	return b.Snapshot(), nil
}

// TotalSessions is the payload GET /total-sessions renders. It never raises:
// a backend whose fresh probe fails simply contributes its last-known count,
// and Alert is set to flag that the total may be stale.
type TotalSessions struct {
	Total           int            `json:"total"`
	PerServer       map[string]int `json:"perServer"`
	Alert           bool           `json:"alert"`
	Summary         string         `json:"summary"`
	Capacity        CapacityView   `json:"capacity"`
	Recommendations []string       `json:"recommendations"`
}

// CapacityView is the fleet-wide capacity rollup TotalSessions carries.
type CapacityView struct {
	MaxSessionsPerServer int     `json:"maxSessionsPerServer"`
	TotalCapacity        int     `json:"totalCapacity"`
	UsedCapacity         int     `json:"usedCapacity"`
	AvailableCapacity    int     `json:"availableCapacity"`
	UtilizationPercent   float64 `json:"utilizationPercent"`
}

// TotalSessions forces a fresh sessionCount probe per backend, composing the
// capacity view and recommendations from the results. A backend whose probe
// fails falls back to its last-known count and sets Alert, rather than
// failing the whole aggregate.
func (c *Controller) TotalSessions(ctx context.Context) TotalSessions {
	all := c.registry.AllBackends()
	perServer := make(map[string]int, len(all))
	total := 0
	alert := false
	recommendations := make([]string, 0, len(all))

	max := c.registry.MaxSessionsPerServer()
	for _, b := range all {
		count, err := c.registry.SessionCount(ctx, b.ID)
		if err != nil {
			count = b.SessionCount()
			alert = true
			recommendations = append(recommendations, b.ID+" is unhealthy and reporting a last-known count; investigate before it rejoins the fleet")
		} else if count >= max {
			recommendations = append(recommendations, b.ID+" is at capacity")
		}
		perServer[b.ID] = count
		total += count
	}

	capacityTotal := max * len(all)
	utilization := 0.0
	if capacityTotal > 0 {
		utilization = float64(total) / float64(capacityTotal) * 100
	}
	available := capacityTotal - total
	if available < 0 {
		available = 0
	}

	summary := "fleet capacity is healthy"
	if alert {
		summary = "degraded: one or more backends served their last-known count instead of a fresh probe"
	}

	return TotalSessions{
		Total:     total,
		PerServer: perServer,
		Alert:     alert,
		Summary:   summary,
		Capacity: CapacityView{
			MaxSessionsPerServer: max,
			TotalCapacity:        capacityTotal,
			UsedCapacity:         total,
			AvailableCapacity:    available,
			UtilizationPercent:   utilization,
		},
		Recommendations: recommendations,
	}
}

// CheckServer forces a targeted health probe of backend id, used by the
// admin POST /health/check/{serverId} operation.
func (c *Controller) CheckServer(ctx context.Context, id string) error {
	return c.monitor.CheckServer(ctx, id)
}

// ResetServer forces backend id back to HEALTHY, used by the admin
// POST /servers/reset/{serverId} operation.
func (c *Controller) ResetServer(id string) error {
	return c.registry.ResetToHealthy(id)
}
