package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func runLockerTests(t *testing.T, locker Locker) {
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "adjust-schedules", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "adjust-schedules", time.Minute)
	assert.ErrorIs(t, err, ErrJobRunning)

	// Other names are independent.
	releaseOther, err := locker.Acquire(ctx, "check-missed", time.Minute)
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))

	again, err := locker.Acquire(ctx, "adjust-schedules", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemoryLocker(t *testing.T) {
	runLockerTests(t, NewMemoryLocker())
}

func TestMemoryLockerExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	locker := NewMemoryLocker()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	require.NoError(t, stale(ctx))
	_, err = locker.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, ErrJobRunning)

	require.NoError(t, fresh(ctx))
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		t.Skip("Skipping Docker-based tests in CI environment")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Failed to start Redis container (Docker may not be available): %v", err)
	}
	defer container.Terminate(ctx)

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer rdb.Close()

	locker := NewRedisLocker(rdb, "")
	runLockerTests(t, locker)

	t.Run("release does not steal", func(t *testing.T) {
		release, err := locker.Acquire(ctx, "job", time.Minute)
		require.NoError(t, err)

		// Simulate expiry followed by another holder.
		require.NoError(t, rdb.Set(ctx, "care-reminders:lock:job", "someone-else", time.Minute).Err())
		require.NoError(t, release(ctx))

		val, err := rdb.Get(ctx, "care-reminders:lock:job").Result()
		require.NoError(t, err)
		assert.Equal(t, "someone-else", val)
	})
}

func TestDialRedisUnreachable(t *testing.T) {
	_, err := DialRedis(context.Background(), "127.0.0.1:1", "", 0)
	assert.ErrorContains(t, err, "redis ping")
}
