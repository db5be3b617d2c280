package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis_db "github.com/tallyops/tally/internal/redis-db"

	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/model"

	"github.com/go-redis/cache/v9"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	ca, err := newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	return ca, nil
}

// Run summaries are the hot read path: dashboards poll totals and
// counts while a run sits in review. Summaries are cached per run with
// a short TTL and invalidated on every mutation (source upload,
// exception update, completion) rather than rewritten, so the next
// read repopulates from the database.
const runSummaryTTL = 5 * time.Minute

func RunKey(runID string) string {
	return fmt.Sprintf("tally:run:%s", runID)
}

// GetRunSummary returns the cached summary for a run, or nil on a miss
// or a stale entry.
func GetRunSummary(ctx context.Context, c Cache, runID string) *model.Run {
	var cached model.Run
	if err := c.Get(ctx, RunKey(runID), &cached); err != nil || cached.RunID != runID {
		return nil
	}
	return &cached
}

func SetRunSummary(ctx context.Context, c Cache, run *model.Run) error {
	return c.Set(ctx, RunKey(run.RunID), run, runSummaryTTL)
}

func InvalidateRun(ctx context.Context, c Cache, runID string) error {
	return c.Delete(ctx, RunKey(runID))
}

const cacheSize = 128000

type RedisCache struct {
	cache *cache.Cache
}

func newRedisCache(addresses []string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	r := &RedisCache{cache: c}

	return r, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}

	if err != nil {
		return err
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
