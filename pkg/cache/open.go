package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/expectedparrot/edsl-sub003/pkg/config"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
)

const connectTimeout = 5 * time.Second

// Open creates the persisted store named by cfg.Cache.Backend. The memory
// backend returns a nil store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, nil
	}
	cc := cfg.Cache
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(cc.Backend)) {
	case "", config.CacheBackendMemory:
		return nil, nil
	case config.CacheBackendSQLite:
		store, err := NewSQLiteStore(config.ResolveCacheDSN(cfg))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheUnavailable, "open sqlite cache")
		}
		return store, nil
	case config.CacheBackendRedis:
		store, err := NewRedisStore(ctx, RedisOptions{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Prefix:   cc.Redis.Prefix,
			TTL:      cc.Redis.TTL,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheUnavailable, "open redis cache")
		}
		return store, nil
	case config.CacheBackendMongo:
		store, err := NewMongoStore(ctx, MongoOptions{
			URI:        cc.Mongo.URI,
			Database:   cc.Mongo.Database,
			Collection: cc.Mongo.Collection,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheUnavailable, "open mongo cache")
		}
		return store, nil
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("unknown cache backend %q", cc.Backend))
	}
}

// OpenOrMemory opens the configured store and falls back to an in-process
// cache when it is unreachable. The fallback is logged, never fatal.
func OpenOrMemory(ctx context.Context, cfg *config.Config, opts Options) *Cache {
	store, err := Open(ctx, cfg)
	if err != nil {
		_ = opts.Logger.Warn(logging.CategoryCache, "cache.fallback", err.Error(), map[string]any{
			"backend": cfg.Cache.Backend,
		})
		store = nil
	}
	return New(store, opts)
}
