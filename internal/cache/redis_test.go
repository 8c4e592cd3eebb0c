package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, "")
	t.Cleanup(func() { s.Close() })
	ctx := t.Context()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "k", "a dog on a beach", 0))
	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a dog on a beach", v)

	// Keys are namespaced with the default prefix.
	got, err := mr.Get("blurb:k")
	require.NoError(t, err)
	assert.Equal(t, "a dog on a beach", got)
	assert.False(t, mr.Exists("k"))
}

func TestRedisStorePrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, "test:")
	t.Cleanup(func() { s.Close() })
	ctx := t.Context()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(time.Minute)
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, "")
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Set(t.Context(), "k", "v", 0))
	mr.SetError("ERR backend unavailable")
	_, found, err := s.Get(t.Context(), "k")
	assert.ErrorContains(t, err, "redis get")
	assert.False(t, found)

	err = s.Set(t.Context(), "k", "v", 0)
	assert.ErrorContains(t, err, "redis set")
}
