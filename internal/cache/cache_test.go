package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/modeltrain/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCounter.
func setupRedis(t *testing.T) *cache.RedisCounter {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCounter("redis://" + host + ":" + port.Port())
	require.NoError(t, err)

	return rc
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestIncrWithExpiry_Counts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, "test:counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIncrWithExpiry_WindowResets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	_, err := rc.IncrWithExpiry(ctx, "test:window", time.Second)
	require.NoError(t, err)
	_, err = rc.IncrWithExpiry(ctx, "test:window", time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	got, err := rc.IncrWithExpiry(ctx, "test:window", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestNewRedisCounter_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCounter("not-a-url")
	assert.Error(t, err)
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:submit:10.0.0.1", cache.RateLimitKey("submit", "10.0.0.1"))
}
