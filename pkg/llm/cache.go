package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// CachingProvider wraps a provider with an in-memory response cache.
// Keys cover model, message history, and temperature; a changed prompt or
// sampling setting always misses. Tool-bearing requests are never cached
// since handler results change between runs.
type CachingProvider struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	response Response
	expires  time.Time
}

func NewCachingProvider(inner Provider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingProvider{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachingProvider) Name() string { return c.inner.Name() }

func (c *CachingProvider) Close() error { return c.inner.Close() }

func (c *CachingProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Tools) > 0 {
		return c.inner.Chat(ctx, req)
	}

	key := cacheKey(req)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		cp := entry.response
		return &cp, nil
	}
	c.mu.Unlock()

	resp, err := c.inner.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{response: *resp, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return resp, nil
}

func cacheKey(req *Request) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(req.Model)
	_ = enc.Encode(req.Temperature)
	_ = enc.Encode(req.MaxTokens)
	_ = enc.Encode(req.Messages)
	return hex.EncodeToString(h.Sum(nil))
}

var _ Provider = (*CachingProvider)(nil)
