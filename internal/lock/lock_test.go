package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exercise(t *testing.T, l Locker) {
	ctx := context.Background()
	name := "campaign:" + t.Name()

	release, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, name, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release()

	again, err := l.Acquire(ctx, name, time.Minute)
	require.NoError(t, err)
	again()
}

func TestMemoryLocker(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryLockerExpires(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.clock = func() time.Time { return now }

	stale, err := m.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := m.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)

	// releasing the expired holder must not free the new one
	stale()
	_, err = m.Acquire(context.Background(), "x", time.Second)
	assert.ErrorIs(t, err, ErrLocked)
	fresh()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	exercise(t, NewRedis(client, zap.NewNop()))
}
