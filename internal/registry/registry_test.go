package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mir00r/session-gateway/internal/domain"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/sessionindex"
	"github.com/mir00r/session-gateway/internal/ttlcache"
	"github.com/mir00r/session-gateway/internal/upstream"
	"github.com/mir00r/session-gateway/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func newTestRegistry(t *testing.T, urls []string, maxSessions int) *Registry {
	t.Helper()
	return New(urls, ttlcache.New[int](), sessionindex.New(), upstream.New(time.Second), testLogger(t), maxSessions, time.Second)
}

func TestNewAssignsPositionalIDs(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	all := r.AllBackends()
	require.Len(t, all, 2)
	assert.Equal(t, "server-1", all[0].ID)
	assert.Equal(t, "server-2", all[1].ID)
}

func TestActiveBackendsExcludesUnhealthy(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	_, err := r.UpdateStatus("server-1", domain.StatusUnhealthy, domain.StatusPatch{})
	require.NoError(t, err)

	active := r.ActiveBackends()
	require.Len(t, active, 1)
	assert.Equal(t, "server-2", active[0].ID)
}

func TestUpdateStatusUnknownBackend(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a"}, 25)
	_, err := r.UpdateStatus("server-99", domain.StatusHealthy, domain.StatusPatch{})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNotFound, ge.Code)
}

func TestSessionCountServesFromCacheOnHit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []map[string]string{{"id": "s1"}}})
	}))
	defer srv.Close()

	r := newTestRegistry(t, []string{srv.URL}, 25)
	ctx := context.Background()

	count, err := r.SessionCount(ctx, "server-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = r.SessionCount(ctx, "server-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestSessionCountMarksFullAtCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []map[string]string{{"id": "a"}, {"id": "b"}}})
	}))
	defer srv.Close()

	r := newTestRegistry(t, []string{srv.URL}, 2)
	_, err := r.SessionCount(context.Background(), "server-1")
	require.NoError(t, err)

	b, _ := r.Get("server-1")
	assert.Equal(t, domain.StatusFull, b.Status())
}

func TestSessionCountMarksUnhealthyOnConnectionFailure(t *testing.T) {
	r := newTestRegistry(t, []string{"http://127.0.0.1:1"}, 25)
	_, err := r.SessionCount(context.Background(), "server-1")
	assert.Error(t, err)

	b, _ := r.Get("server-1")
	assert.Equal(t, domain.StatusUnhealthy, b.Status())
}

func TestFindSessionBackendUsesIndexHint(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	b2, _ := r.Get("server-2")
	b2.InsertSession("sess-1")
	r.index.Set("sess-1", "server-2")

	found, cached, err := r.FindSessionBackend(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "server-2", found.ID)
	assert.True(t, cached)
}

// TestFindSessionBackendTrustsStaleHint documents the tolerate-staleness
// design: stage 1 returns whatever backend the index names without locally
// confirming the session actually lives there, even if that hint is stale.
func TestFindSessionBackendTrustsStaleHint(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	b2, _ := r.Get("server-2")
	b2.InsertSession("sess-1")
	r.index.Set("sess-1", "server-1") // stale hint, actual session lives on server-2

	found, cached, err := r.FindSessionBackend(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "server-1", found.ID)
	assert.True(t, cached)
}

func TestFindSessionBackendScansLocalSetsWhenNoHint(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	b2, _ := r.Get("server-2")
	b2.InsertSession("sess-1")

	found, cached, err := r.FindSessionBackend(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "server-2", found.ID)
	assert.True(t, cached)
}

func TestFindSessionBackendNotFound(t *testing.T) {
	r := newTestRegistry(t, []string{"http://127.0.0.1:1"}, 25)
	_, _, err := r.FindSessionBackend(context.Background(), "missing")
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNotFound, ge.Code)
}

func TestDeleteSessionRemovesLocallyAndFromIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestRegistry(t, []string{srv.URL}, 25)
	b, _ := r.Get("server-1")
	b.InsertSession("sess-1")
	r.index.Set("sess-1", "server-1")

	backendID, err := r.DeleteSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "server-1", backendID)
	assert.False(t, b.HasSession("sess-1"))

	_, ok := r.index.Get("sess-1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), b.Counters().DeletedSessions)
}

func TestDeleteSessionCleansUpAndSurfacesUpstream404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestRegistry(t, []string{srv.URL}, 25)
	b, _ := r.Get("server-1")
	b.InsertSession("sess-1")
	r.index.Set("sess-1", "server-1")

	_, err := r.DeleteSession(context.Background(), "sess-1")
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ge.HTTPStatusCode())
	assert.False(t, b.HasSession("sess-1"))
}

func TestTotalsSumsActiveAndSessions(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a", "http://b"}, 25)
	b1, _ := r.Get("server-1")
	one := 3
	b1.ApplyStatus(domain.StatusHealthy, domain.StatusPatch{SessionCount: &one})

	active, total := r.Totals()
	assert.Equal(t, 2, active)
	assert.Equal(t, 3, total)
}

func TestResetToHealthyClearsStatus(t *testing.T) {
	r := newTestRegistry(t, []string{"http://a"}, 25)
	_, err := r.UpdateStatus("server-1", domain.StatusUnhealthy, domain.StatusPatch{Error: "boom"})
	require.NoError(t, err)

	require.NoError(t, r.ResetToHealthy("server-1"))
	b, _ := r.Get("server-1")
	assert.Equal(t, domain.StatusHealthy, b.Status())
	assert.Empty(t, b.LastError())
}
