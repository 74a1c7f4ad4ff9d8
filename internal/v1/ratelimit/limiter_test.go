package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l, err := New(Config{
		DefaultFormatted: "100-M",
		PerChannel: map[string]string{
			"room": "3-M",
		},
	}, rc)
	require.NoError(t, err)
	return l
}

func TestLimiter_AllowsUnderQuota(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "alice", "room")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed", i)
	}
}

func TestLimiter_DeniesOverQuota(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "bob", "room")
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "bob", "room")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.GreaterOrEqual(t, d.RetryAfter.Seconds(), 0.0)
}

func TestLimiter_PerPlayerIsolation(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "carol", "room")
		require.NoError(t, err)
	}
	d, err := l.Check(ctx, "dave", "room")
	require.NoError(t, err)
	require.True(t, d.Allowed, "a different player must not share carol's quota")
}

func TestLimiter_FallsBackToDefaultRate(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	d, err := l.Check(ctx, "erin", "whisper")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
