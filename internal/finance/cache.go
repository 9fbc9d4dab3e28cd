package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionPrefix = "finance:version"
	// BumpChannel carries "<owner>:<version>" invalidation messages.
	BumpChannel = "finance.bump"
)

// Cache wraps Redis based caching with per-owner versioning.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(owner uuid.UUID) string {
	return cacheVersionPrefix + ":" + owner.String()
}

// Version returns the owner's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, owner uuid.UUID) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(owner)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes an owner scoped key carrying the current version.
func (c *Cache) BuildKey(ctx context.Context, owner uuid.UUID, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"finance", owner.String()}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, owner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates one owner's entries and announces the new version.
func (c *Cache) Bump(ctx context.Context, owner uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(owner)).Result()
	if err != nil {
		return err
	}
	msg := owner.String() + ":" + strconv.FormatInt(ver, 10)
	return c.client.Publish(ctx, BumpChannel, msg).Err()
}

// ListenForInvalidation subscribes to bump notifications published by other
// writers, such as the CRUD service that owns the records.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.applyBump(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

// applyBump handles "<owner>" and "<owner>:<version>" payloads; a version
// lower than the stored one is ignored.
func (c *Cache) applyBump(ctx context.Context, payload string) {
	rawOwner, rawVer, hasVer := strings.Cut(strings.TrimSpace(payload), ":")
	owner, err := uuid.Parse(rawOwner)
	if err != nil {
		return
	}
	key := versionKey(owner)
	if hasVer {
		ver, err := strconv.ParseInt(rawVer, 10, 64)
		if err == nil {
			current, _ := c.client.Get(ctx, key).Int64()
			if ver > current {
				_ = c.client.Set(ctx, key, ver, 0).Err()
			}
			return
		}
	}
	_ = c.client.Incr(ctx, key).Err()
}
