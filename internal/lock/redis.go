package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

const (
	keyPrefix  = "tcga:cohort-lock:"
	defaultTTL = 2 * time.Hour
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis serializes runs across every process sharing a Redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedis connects to config.RedisURL and verifies the connection.
func NewRedis(config domain.CacheConfig, logger *logrus.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, config.LockTTL, logger), nil
}

// NewRedisWithClient wraps an existing client. A zero ttl uses two hours.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

// Acquire sets the cohort key with a random token if it is absent. While
// held, the key's expiry is pushed back every third of the TTL, so a run
// longer than the TTL keeps its exclusion; the TTL only bounds how long a
// crashed holder blocks others.
func (r *Redis) Acquire(ctx context.Context, cohort string) (func(), error) {
	key := keyPrefix + cohort
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", cohort, err)
	}
	if !ok {
		return nil, fmt.Errorf("cohort %s: %w", cohort, domain.ErrCohortLocked)
	}

	r.logger.WithFields(logrus.Fields{
		"cohort": cohort,
		"ttl":    r.ttl.String(),
	}).Debug("Acquired cohort lock")

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(cohort, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.WithFields(logrus.Fields{
					"cohort": cohort,
					"error":  err.Error(),
				}).Warn("Failed to release cohort lock")
			}
		})
	}, nil
}

func (r *Redis) keepAlive(cohort, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
		cancel()

		switch {
		case err != nil:
			r.logger.WithFields(logrus.Fields{
				"cohort": cohort,
				"error":  err.Error(),
			}).Warn("Failed to refresh cohort lock")
		case n == 0:
			r.logger.WithField("cohort", cohort).Error("Cohort lock lost to expiry or another holder")
			return
		}
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
