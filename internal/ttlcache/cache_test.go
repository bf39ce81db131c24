package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[int]()
	c.Set("a", 42, time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGetMissing(t *testing.T) {
	c := New[int]()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestGetExpiresLazily(t *testing.T) {
	c := New[string]()
	fake := time.Now()
	c.nowFn = func() time.Time { return fake }

	c.Set("k", "v", 10*time.Millisecond)
	fake = fake.Add(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry must be deleted by Get")
}

func TestDelete(t *testing.T) {
	c := New[int]()
	c.Set("k", 1, time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()

	assert.Equal(t, 0, c.Len())
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	c := New[int]()
	fake := time.Now()
	c.nowFn = func() time.Time { return fake }

	c.Set("stale", 1, 10*time.Millisecond)
	c.Set("fresh", 2, time.Hour)
	fake = fake.Add(20 * time.Millisecond)

	removed := c.Cleanup()
	assert.Equal(t, 1, removed)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}
