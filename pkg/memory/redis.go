package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const shortTermKeyPrefix = "agent_memory:short_term:"

// RedisStore is the redis-backed short-term backend. Identical window
// semantics to BufferStore, but survives process restarts. Items live in
// a redis list trimmed to the window on every append.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisStoreConfig struct {
	// URL is a redis connection URL (redis://host:port/db).
	URL string
	// TTL expires idle agent buffers. Zero means no expiry.
	TTL time.Duration
}

func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func shortTermKey(agentID string) string {
	return shortTermKeyPrefix + agentID
}

func (s *RedisStore) Load(ctx context.Context, agentID string) ([]ShortTermItem, error) {
	raw, err := s.client.LRange(ctx, shortTermKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load short-term memory: %w", err)
	}

	// Newest is at the head of the list; return insertion order.
	items := make([]ShortTermItem, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var item ShortTermItem
		if err := json.Unmarshal([]byte(raw[i]), &item); err != nil {
			return nil, fmt.Errorf("corrupt short-term item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RedisStore) Append(ctx context.Context, agentID string, item ShortTermItem, window int) error {
	if window <= 0 {
		window = DefaultWindow
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode short-term item: %w", err)
	}

	key := shortTermKey(agentID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(window)-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append short-term memory: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, agentID string) error {
	if err := s.client.Del(ctx, shortTermKey(agentID)).Err(); err != nil {
		return fmt.Errorf("failed to clear short-term memory: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
