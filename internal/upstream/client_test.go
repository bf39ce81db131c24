package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessionsAcceptsEitherFieldName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessions":[{"id":"a"},{"sessionId":"b"},{"other":"c"}]}`))
	}))
	defer srv.Close()

	c := New(time.Second)
	sessions, elapsed, status, err := c.ListSessions(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []string{"a", "b"}, sessions)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestListSessionsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(time.Second)
	_, _, status, err := c.ListSessions(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestLogoutReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logout/sess-1", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c := New(time.Second)
	status, body, err := c.Logout(context.Background(), srv.URL, "sess-1", http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "not found")
}

func TestForwardRewritesPairTrailingSlash(t *testing.T) {
	var seenPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		assert.Equal(t, "backend-1", r.Header.Get("x-proxy-server"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(time.Second)
	resp, err := c.Forward(context.Background(), srv.URL, "backend-1", ForwardRequest{
		Method: http.MethodGet,
		Path:   "/pair/491234567",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "/pair/491234567/", seenPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForwardLeavesNonPairPathAlone(t *testing.T) {
	var seenPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(time.Second)
	_, err := c.Forward(context.Background(), srv.URL, "backend-1", ForwardRequest{
		Method: http.MethodGet,
		Path:   "/pair/491234567/extra",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "/pair/491234567/extra", seenPath)
}

func TestPairSessionIDPrefersSessionID(t *testing.T) {
	id, ok := PairSessionID([]byte(`{"ok":true,"sessionId":"abc","cleanNumber":"491234567"}`))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestPairSessionIDFallsBackToCleanNumber(t *testing.T) {
	id, ok := PairSessionID([]byte(`{"ok":true,"cleanNumber":"491234567"}`))
	assert.True(t, ok)
	assert.Equal(t, "491234567", id)
}

func TestPairSessionIDRequiresOkTrue(t *testing.T) {
	_, ok := PairSessionID([]byte(`{"ok":false,"sessionId":"abc"}`))
	assert.False(t, ok)
}

func TestClassifyErrorTimeout(t *testing.T) {
	assert.Equal(t, KindTimeout, ClassifyError(context.DeadlineExceeded))
}
