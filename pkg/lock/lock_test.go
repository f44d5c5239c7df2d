package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/recall/pkg/lock"
)

func runLockerContract(t *testing.T, l lock.Locker) {
	ctx := context.Background()
	key := lock.SessionKey(uuid.NewString())

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrBusy)

	other, err := l.Acquire(ctx, lock.SessionKey(uuid.NewString()))
	require.NoError(t, err)
	defer other()

	release()
	release()

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	again()
}

func TestLocalLocker(t *testing.T) {
	runLockerContract(t, lock.NewLocal())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("RECALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RECALL_TEST_REDIS_ADDR not set")
	}

	l, err := lock.NewRedis(context.Background(), lock.RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer l.Close()

	runLockerContract(t, l)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:abc", lock.SessionKey("abc"))
}
