package sessionindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	idx := New()
	idx.Set("sess-1", "server-2")

	backend, ok := idx.Get("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "server-2", backend)
}

func TestGetMissing(t *testing.T) {
	idx := New()
	_, ok := idx.Get("nope")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	idx := New()
	idx.Set("sess-1", "server-1")
	idx.Delete("sess-1")

	_, ok := idx.Get("sess-1")
	assert.False(t, ok)
}

func TestOverwriteIsLastWriterWins(t *testing.T) {
	idx := New()
	idx.Set("sess-1", "server-1")
	idx.Set("sess-1", "server-2")

	backend, ok := idx.Get("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "server-2", backend)
}

func TestDeleteByBackend(t *testing.T) {
	idx := New()
	idx.Set("a", "server-1")
	idx.Set("b", "server-1")
	idx.Set("c", "server-2")

	removed := idx.DeleteByBackend("server-1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, idx.Len())
}
