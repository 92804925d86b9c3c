package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dedupKeyPrefix = "guardian:dedup:"

// RedisDedup shares submission fingerprints across instances. The first
// instance to SETNX a fingerprint owns it for the window.
type RedisDedup struct {
	client *redis.Client
	window time.Duration
	logger *zap.SugaredLogger
}

// NewRedisDedup wraps an existing client.
func NewRedisDedup(client *redis.Client, window time.Duration, logger *zap.SugaredLogger) *RedisDedup {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisDedup{client: client, window: window, logger: logger}
}

// Claim records incidentID as the owner of fingerprint. When another
// incident already owns it, that incident's id is returned with claimed=false.
func (d *RedisDedup) Claim(ctx context.Context, fingerprint, incidentID string) (string, bool, error) {
	key := dedupKeyPrefix + fingerprint
	ok, err := d.client.SetNX(ctx, key, incidentID, d.window).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	if ok {
		return incidentID, true, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = d.client.SetNX(ctx, key, incidentID, d.window).Result()
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
		}
		if ok {
			return incidentID, true, nil
		}
		existing, err = d.client.Get(ctx, key).Result()
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
	}
	return existing, false, nil
}

// Release drops a claim, used when the owning submission failed to persist.
func (d *RedisDedup) Release(ctx context.Context, fingerprint string) error {
	if err := d.client.Del(ctx, dedupKeyPrefix+fingerprint).Err(); err != nil {
		d.logger.Warnw("Failed to release dedup claim", "error", err)
		return err
	}
	return nil
}
