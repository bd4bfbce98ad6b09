package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores drafts as JSON strings with a TTL, so expiry is handled by Redis.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedis(rdb redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis) key(sessionID string) string {
	return r.prefix + ":" + sessionID
}

func (r *Redis) Save(ctx context.Context, d *Draft) error {
	d.SavedAt = r.now().UTC()
	d.ExpiresAt = d.SavedAt.Add(r.ttl)

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}

	err = r.rdb.Set(ctx, r.key(d.SessionID), payload, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, sessionID string) (*Draft, error) {
	payload, err := r.rdb.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	d := &Draft{}
	err = json.Unmarshal(payload, d)
	if err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return d, nil
}

func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	err := r.rdb.Del(ctx, r.key(sessionID)).Err()
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}
