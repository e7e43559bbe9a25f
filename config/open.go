package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echoface/rankcache"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/kvstore"
)

// Caches the configured caches behind one coordinator, with the shared
// connections they were opened on
type Caches struct {
	*rankcache.Coordinator

	cfg  *Config
	meta kvstore.MetadataBackend

	mu    sync.Mutex
	redis redis.UniversalClient
}

// OpenIndex open the document index at Index.Path
func (c *Config) OpenIndex() (*docindex.Database, error) {
	return docindex.Open(docindex.Options{Path: c.Index.Path})
}

// OpenCaches open ids, or every configured cache when ids is empty. meta backs
// the metadata backend and is normally the index writer the caches apply to;
// it may be nil when no cache uses that backend
func (c *Config) OpenCaches(meta kvstore.MetadataBackend, ids ...string) (*Caches, error) {
	if len(ids) == 0 {
		ids = c.CacheIDs()
	}
	cs := &Caches{cfg: c, meta: meta}
	cs.Coordinator = rankcache.NewCoordinator(cs.open)
	for _, id := range ids {
		if _, err := cs.AddCache(id); err != nil {
			return nil, errors.Join(err, cs.Close())
		}
	}
	return cs, nil
}

func (cs *Caches) open(id string) (*rankcache.Cache, error) {
	cc, ok := cs.cfg.Cache(id)
	if !ok {
		return nil, fmt.Errorf("cache %s is not configured: %w", id, rankcache.ErrNotFound)
	}
	store, err := cs.store(cc)
	if err != nil {
		return nil, err
	}

	var opts []rankcache.Option
	if cc.ChunkSize > 0 {
		opts = append(opts, rankcache.WithChunkSize(cc.ChunkSize))
	}
	if cc.SlotReserve > 0 {
		opts = append(opts, rankcache.WithSlotReserve(cc.SlotReserve))
	}
	if cc.Inverter == InverterDisk {
		opts = append(opts, rankcache.WithInverter(rankcache.NewDiskInverter(cc.InvertDir)))
	}
	return rankcache.NewCache(cc.ID, store, opts...), nil
}

func (cs *Caches) store(cc CacheConfig) (kvstore.Store, error) {
	switch cc.Backend {
	case BackendMemory:
		return kvstore.NewMemoryStore(), nil
	case BackendSQLite:
		return kvstore.OpenSQLStore(kvstore.SQLite, cc.DSN, cc.ID)
	case BackendPostgres:
		return kvstore.OpenSQLStore(kvstore.Postgres, cc.DSN, cc.ID)
	case BackendRedis:
		return kvstore.NewRedisStore(cs.redisClient(), cc.Prefix, cs.cfg.Redis.Timeout()), nil
	case BackendMetadata:
		if cs.meta == nil {
			return nil, fmt.Errorf("cache %s: metadata backend without an index writer: %w", cc.ID, rankcache.ErrUsage)
		}
		return kvstore.NewMetadataStore(cs.meta, cc.Prefix), nil
	}
	return nil, fmt.Errorf("cache %s: unknown backend %q: %w", cc.ID, cc.Backend, rankcache.ErrUsage)
}

func (cs *Caches) redisClient() redis.UniversalClient {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.redis == nil {
		cs.redis = redis.NewClient(&redis.Options{
			Addr:     cs.cfg.Redis.Addr,
			Password: cs.cfg.Redis.Password,
			DB:       cs.cfg.Redis.DB,
		})
	}
	return cs.redis
}

// Close close every cache, then the shared redis client
func (cs *Caches) Close() error {
	err := cs.Coordinator.Close()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.redis != nil {
		err = errors.Join(err, cs.redis.Close())
		cs.redis = nil
	}
	return err
}

func (r RedisConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}
