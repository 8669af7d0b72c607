package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "clinic:conversation:"

// RedisStore keeps each conversation as a JSON value whose key TTL is reset
// on every Put, so idle conversations expire on their own.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: defaultKeyPrefix, now: time.Now}
}

// NewRedisClient parses url (redis://...) and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) key(userID string) string { return r.prefix + userID }

func (r *RedisStore) Get(ctx context.Context, userID string) (*State, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get conversation: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		// a value we cannot read is as good as no conversation
		_ = r.client.Del(ctx, r.key(userID)).Err()
		return nil, nil
	}
	if s.expired(r.now(), r.ttl) {
		_ = r.client.Del(ctx, r.key(userID)).Err()
		return nil, nil
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *State) error {
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set conversation: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete conversation: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys itself.
func (r *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }
