package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/channelvault/channelvault/internal/cache"
	"github.com/channelvault/channelvault/internal/models"
)

// Cache TTLs for the read paths. NowPlaying is time-dependent and never
// cached.
const (
	ttlChannels = 1 * time.Minute
	ttlPrograms = 5 * time.Minute
)

// CachedStore wraps a Store with a Redis caching layer. Guide and channel
// listings are read-heavy between syncs; the bulk-replace writes invalidate
// the affected users' keys.
type CachedStore struct {
	inner Store
	cache *cache.Redis
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

// --- cached read operations ---

func (c *CachedStore) ListChannels(ctx context.Context, username string) ([]models.Channel, error) {
	key := fmt.Sprintf("livetv:channels:%s", username)
	if v, err := cache.Get[[]models.Channel](ctx, c.cache, key); err == nil {
		return v, nil
	}
	channels, err := c.inner.ListChannels(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, channels, ttlChannels); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return channels, nil
}

func (c *CachedStore) ListPrograms(ctx context.Context, username, channelID string) ([]models.Program, error) {
	key := fmt.Sprintf("livetv:programs:%s:%s", username, channelID)
	if v, err := cache.Get[[]models.Program](ctx, c.cache, key); err == nil {
		return v, nil
	}
	programs, err := c.inner.ListPrograms(ctx, username, channelID)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, programs, ttlPrograms); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return programs, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) DeleteChannels(ctx context.Context, usernames []string) error {
	if err := c.inner.DeleteChannels(ctx, usernames); err != nil {
		return err
	}
	c.invalidateUsers(ctx, "livetv:channels:%s", usernames)
	return nil
}

func (c *CachedStore) InsertChannels(ctx context.Context, channels []models.Channel) error {
	if err := c.inner.InsertChannels(ctx, channels); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, ch := range channels {
		if _, ok := seen[ch.Username]; ok {
			continue
		}
		seen[ch.Username] = struct{}{}
		c.invalidate(ctx, fmt.Sprintf("livetv:channels:%s", ch.Username))
	}
	return nil
}

func (c *CachedStore) DeletePrograms(ctx context.Context, usernames []string) error {
	if err := c.inner.DeletePrograms(ctx, usernames); err != nil {
		return err
	}
	for _, u := range usernames {
		c.invalidatePattern(ctx, fmt.Sprintf("livetv:programs:%s:*", u))
	}
	return nil
}

func (c *CachedStore) InsertPrograms(ctx context.Context, programs []models.Program) error {
	if err := c.inner.InsertPrograms(ctx, programs); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, pr := range programs {
		if _, ok := seen[pr.Username]; ok {
			continue
		}
		seen[pr.Username] = struct{}{}
		c.invalidatePattern(ctx, fmt.Sprintf("livetv:programs:%s:*", pr.Username))
	}
	return nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) ListLiveTVUsers(ctx context.Context) ([]models.User, error) {
	return c.inner.ListLiveTVUsers(ctx)
}

func (c *CachedStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return c.inner.GetUser(ctx, username)
}

func (c *CachedStore) GetChannel(ctx context.Context, username, channelID string) (*models.Channel, error) {
	return c.inner.GetChannel(ctx, username, channelID)
}

func (c *CachedStore) NowPlaying(ctx context.Context, username string, at time.Time) (map[string]models.Program, error) {
	return c.inner.NowPlaying(ctx, username, at)
}

// --- helpers ---

func (c *CachedStore) invalidateUsers(ctx context.Context, format string, usernames []string) {
	keys := make([]string, 0, len(usernames))
	for _, u := range usernames {
		keys = append(keys, fmt.Sprintf(format, u))
	}
	c.invalidate(ctx, keys...)
}

func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && err != redis.Nil {
		log.Printf("cache: del %v: %v", keys, err)
	}
}

func (c *CachedStore) invalidatePattern(ctx context.Context, pattern string) {
	if err := cache.DelPattern(ctx, c.cache, pattern); err != nil {
		log.Printf("cache: del pattern %s: %v", pattern, err)
	}
}
