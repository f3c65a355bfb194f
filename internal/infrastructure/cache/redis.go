package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const trainingLockKey = "lock:training"

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisCache holds cached fingerprints and the cross-process training lease
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

func fingerprintKey(identity string, window time.Duration) string {
	return fmt.Sprintf("fp:%s:%d", identity, int64(window/time.Second))
}

// GetFingerprint returns a cached fingerprint; misses and errors both report false
func (c *RedisCache) GetFingerprint(ctx context.Context, identity string, window time.Duration) (*models.IdentityFingerprint, bool) {
	data, err := c.client.Get(ctx, c.key(fingerprintKey(identity, window))).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("identity", identity).Msg("fingerprint cache read failed")
		}
		return nil, false
	}
	var fp models.IdentityFingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		c.logger.Warn().Err(err).Str("identity", identity).Msg("discarding malformed cached fingerprint")
		return nil, false
	}
	return &fp, true
}

// SetFingerprint caches a fingerprint for ttl
func (c *RedisCache) SetFingerprint(ctx context.Context, fp *models.IdentityFingerprint, ttl time.Duration) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	return c.client.Set(ctx, c.key(fingerprintKey(fp.Identity, fp.Window)), data, ttl).Err()
}

// Acquire takes the training lease. It returns models.ErrTrainingInProgress
// when another process holds it.
func (c *RedisCache) Acquire(ctx context.Context, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := c.key(trainingLockKey)

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire training lease: %w", err)
	}
	if !ok {
		return nil, models.ErrTrainingInProgress
	}

	c.logger.Debug().Dur("ttl", ttl).Msg("training lease acquired")

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to release training lease")
		}
	}
	return release, nil
}
