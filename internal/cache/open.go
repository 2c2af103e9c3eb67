package cache

import (
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Store is a closable sheetwise.Cache.
type Store interface {
	sheetwise.Cache
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend    string
	TTL        time.Duration
	SQLitePath string
	Redis      RedisOptions
}

// Open creates the configured store. BackendNone returns a nil Store.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	switch opts.Backend {
	case BackendNone:
		return nil, nil
	case BackendMemory, "":
		return NewInMemoryCache(opts.TTL, logger), nil
	case BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, sheetwise.NewConfigurationError("sqlite cache needs a path", nil)
		}
		c, err := NewSQLiteCache(opts.SQLitePath, opts.TTL, logger)
		if err != nil {
			return nil, sheetwise.NewConfigurationError("failed to open sqlite cache", err)
		}
		return c, nil
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, sheetwise.NewConfigurationError("redis cache needs an address", nil)
		}
		return NewRedisCache(opts.Redis, opts.TTL, logger), nil
	default:
		return nil, sheetwise.NewConfigurationError(fmt.Sprintf("unknown cache backend '%s'", opts.Backend), nil)
	}
}
