package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mir00r/session-gateway/internal/registry"
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

func TestCheckServerRefreshesSessionCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []map[string]string{{"id": "a"}}})
	}))
	defer srv.Close()

	log := testLogger(t)
	client := upstream.New(time.Second)
	reg := registry.New([]string{srv.URL}, ttlcache.New[int](), sessionindex.New(), client, log, 25, time.Second)
	m := New(reg, time.Hour, log)

	require.NoError(t, m.CheckServer(context.Background(), "server-1"))
	backend, _ := reg.Get("server-1")
	assert.Equal(t, 1, backend.SessionCount())
}

func TestStartIsIdempotentAndSweepsImmediately(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []map[string]string{}})
	}))
	defer srv.Close()

	log := testLogger(t)
	client := upstream.New(time.Second)
	reg := registry.New([]string{srv.URL}, ttlcache.New[int](), sessionindex.New(), client, log, 25, time.Second)
	m := New(reg, 20*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, m.IsRunning())
	m.Start(ctx)
	assert.True(t, m.IsRunning())
	m.Start(ctx) // second call must be a no-op, not a second loop, but still logs a warning

	time.Sleep(60 * time.Millisecond)
	m.Stop()

	assert.False(t, m.IsRunning())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(1))
	assert.Equal(t, 20*time.Millisecond, m.Interval())
}

func TestStopWaitsForLoopExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessions": []map[string]string{}})
	}))
	defer srv.Close()

	log := testLogger(t)
	client := upstream.New(time.Second)
	reg := registry.New([]string{srv.URL}, ttlcache.New[int](), sessionindex.New(), client, log, 25, time.Second)
	m := New(reg, time.Hour, log)

	m.Start(context.Background())
	m.Stop()
	// Stop on an already-stopped Monitor must not block or panic.
	m.Stop()
}
