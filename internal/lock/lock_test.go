package lock

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tcga-expression-pipeline/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.Acquire(ctx, "TCGA-BRCA")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "TCGA-BRCA")
	assert.ErrorIs(t, err, domain.ErrCohortLocked)

	other, err := l.Acquire(ctx, "TCGA-LUAD")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	again()
}

func setupRedis(t *testing.T) *redis.Client {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLocker(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	first := NewRedisWithClient(client, time.Minute, quietLogger())
	second := NewRedisWithClient(client, time.Minute, quietLogger())

	release, err := first.Acquire(ctx, "TCGA-BRCA")
	require.NoError(t, err)

	_, err = second.Acquire(ctx, "TCGA-BRCA")
	assert.ErrorIs(t, err, domain.ErrCohortLocked)

	ttl, err := client.TTL(ctx, keyPrefix+"TCGA-BRCA").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	release()

	releaseSecond, err := second.Acquire(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	releaseSecond()
}

func TestRedisLockerOutlivesTTLWhileHeld(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	holder := NewRedisWithClient(client, 300*time.Millisecond, quietLogger())
	other := NewRedisWithClient(client, time.Minute, quietLogger())

	release, err := holder.Acquire(ctx, "TCGA-GBM")
	require.NoError(t, err)

	time.Sleep(time.Second)

	_, err = other.Acquire(ctx, "TCGA-GBM")
	assert.ErrorIs(t, err, domain.ErrCohortLocked, "a held lock is refreshed past its TTL")

	release()
	assert.Zero(t, client.Exists(ctx, keyPrefix+"TCGA-GBM").Val())

	releaseOther, err := other.Acquire(ctx, "TCGA-GBM")
	require.NoError(t, err)
	releaseOther()
}

func TestRedisLockerExpiredHolderDoesNotReleaseNewHolder(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	short := NewRedisWithClient(client, 300*time.Millisecond, quietLogger())
	long := NewRedisWithClient(client, time.Minute, quietLogger())

	staleRelease, err := short.Acquire(ctx, "TCGA-LUAD")
	require.NoError(t, err)

	// The key vanishing under the holder is what an expiry looks like.
	require.NoError(t, client.Del(ctx, keyPrefix+"TCGA-LUAD").Err())

	release, err := long.Acquire(ctx, "TCGA-LUAD")
	require.NoError(t, err)

	staleRelease()

	_, err = short.Acquire(ctx, "TCGA-LUAD")
	assert.ErrorIs(t, err, domain.ErrCohortLocked)
	release()
}
