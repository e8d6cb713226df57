package cachetier

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
)

type StorageFactory func(dsn string) (Storage, error)

var storageFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StorageFactory
}{
	factories: map[string]StorageFactory{},
}

func RegisterStorageFactory(scheme string, factory StorageFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	storageFactoryRegistry.mu.Lock()
	defer storageFactoryRegistry.mu.Unlock()
	storageFactoryRegistry.factories[scheme] = factory
}

func lookupStorageFactory(scheme string) (StorageFactory, bool) {
	storageFactoryRegistry.mu.RLock()
	defer storageFactoryRegistry.mu.RUnlock()
	factory, ok := storageFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildStorageFromDSN selects a cache backend: memory://, sqlite://path (a bare
// path means sqlite), or redis://host:port/db.
func BuildStorageFromDSN(dsn string) (Storage, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty cache storage dsn", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupStorageFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStorage(), nil
	case "", "sqlite", "sqlite3":
		path := dsn
		if scheme != "" {
			path = strings.TrimPrefix(dsn, parsed.Scheme+"://")
		}
		return NewSQLiteStorage(path)
	case "redis", "rediss":
		query := parsed.Query()
		prefix := query.Get("prefix")
		query.Del("prefix")
		parsed.RawQuery = query.Encode()
		opts, err := redis.ParseURL(parsed.String())
		if err != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		return NewRedisStorage(redis.NewClient(opts), prefix), nil
	case "postgres", "postgresql", "file":
		return nil, fmt.Errorf("%w: cache storage backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported cache storage scheme: %s", scheme)
	}
}
