package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tabimport/internal/model"
)

const keyPrefix = "tabimport:progress:"

// Redis stores snapshots as JSON strings with a TTL, so multiple service
// replicas can answer status polls for any job.
type Redis struct {
	rc  redis.UniversalClient
	ttl time.Duration
}

// NewRedis wraps rc. A ttl <= 0 uses DefaultTTL.
func NewRedis(rc redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rc: rc, ttl: ttl}
}

func redisKey(jobID string) string { return keyPrefix + jobID }

func (r *Redis) Put(ctx context.Context, jobID string, v model.StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}
	if err := r.rc.Set(ctx, redisKey(jobID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("progress: set %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, jobID string) (model.StatusView, bool, error) {
	var v model.StatusView
	raw, err := r.rc.Get(ctx, redisKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("progress: get %s: %w", jobID, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("progress: unmarshal %s: %w", jobID, err)
	}
	return v, true, nil
}

// Close releases the client.
func (r *Redis) Close() error { return r.rc.Close() }
