// Package cache memoizes definition evaluations in Redis, keyed by project
// digest. A project's registrations are a pure function of its files, so the
// digest is a safe cache key.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
)

const definitionsKeyPrefix = "definitions:"

type DefinitionsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDefinitionsCache(cfg config.RedisConfig) *DefinitionsCache {
	return &DefinitionsCache{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		ttl:    cfg.TTL,
	}
}

// NewDefinitionsCacheWithClient is used by tests to back the cache with an
// in-process server.
func NewDefinitionsCacheWithClient(client *redis.Client, ttl time.Duration) *DefinitionsCache {
	return &DefinitionsCache{client: client, ttl: ttl}
}

// Get returns the cached definitions for a project digest. A miss is
// (nil, false, nil).
func (c *DefinitionsCache) Get(ctx context.Context, digest string) (*domain.Definitions, bool, error) {
	raw, err := c.client.Get(ctx, definitionsKeyPrefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached definitions: %w", err)
	}

	var defs domain.Definitions
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, false, fmt.Errorf("decoding cached definitions: %w", err)
	}
	return &defs, true, nil
}

func (c *DefinitionsCache) Set(ctx context.Context, digest string, defs *domain.Definitions) error {
	raw, err := json.Marshal(defs)
	if err != nil {
		return fmt.Errorf("encoding definitions: %w", err)
	}
	if err := c.client.Set(ctx, definitionsKeyPrefix+digest, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching definitions: %w", err)
	}
	return nil
}

func (c *DefinitionsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *DefinitionsCache) Close() error {
	return c.client.Close()
}
