package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s := Static{"logs": "elastic:changeme", "empty": ""}

	v, err := s.Lookup(context.Background(), "logs")
	require.NoError(t, err)
	assert.Equal(t, "elastic:changeme", v)

	_, err = s.Lookup(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Lookup(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCached_HitsSourceOnce(t *testing.T) {
	calls := 0
	src := LookupFunc(func(_ context.Context, name string) (string, error) {
		calls++
		return "u:" + name, nil
	})
	c := NewCached(src, time.Minute)

	for i := 0; i < 3; i++ {
		v, err := c.Lookup(context.Background(), "cache")
		require.NoError(t, err)
		assert.Equal(t, "u:cache", v)
	}
	assert.Equal(t, 1, calls)

	c.Invalidate("cache")
	_, _ = c.Lookup(context.Background(), "cache")
	assert.Equal(t, 2, calls)
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	calls := 0
	boom := errors.New("vault down")
	src := LookupFunc(func(context.Context, string) (string, error) {
		calls++
		return "", boom
	})
	c := NewCached(src, time.Minute)

	_, err := c.Lookup(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	_, err = c.Lookup(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestCached_Expires(t *testing.T) {
	calls := 0
	src := LookupFunc(func(context.Context, string) (string, error) {
		calls++
		return "s", nil
	})
	c := NewCached(src, 20*time.Millisecond)

	_, _ = c.Lookup(context.Background(), "x")
	time.Sleep(40 * time.Millisecond)
	_, _ = c.Lookup(context.Background(), "x")
	assert.Equal(t, 2, calls)
}
