// Package data provides the store adapters behind the durable-write core:
// the primary MySQL store, the local SQLite fallback store and the Redis
// diagnostics mirror.
package data

import (
	"context"
	"fmt"

	"SortLedger/internal/biz"
	"SortLedger/internal/conf"
	"SortLedger/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewStoreRegistry,
	NewPrimaryProber,
	NewFallbackOptimizer,
	NewStateMirror,
)

// Data contains all data layer dependencies.
type Data struct {
	// primary is nil in fallback-only mode
	primary  *gorm.DB
	fallback *gorm.DB
	rdb      *redis.Client
	logger   log.Logger
}

// NewData opens both stores. The fallback store must open; the primary
// store may be absent or unreachable.
func NewData(c *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	fallback, err := openFallbackDB(c.Fallback, logger)
	if err != nil {
		return nil, nil, err
	}
	primary, err := openPrimaryDB(c.Primary, logger)
	if err != nil {
		closeDB(helper, "fallback", fallback)
		return nil, nil, err
	}

	d := &Data{
		primary:  primary,
		fallback: fallback,
		rdb:      rdb,
		logger:   logger,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		closeDB(helper, "primary", primary)
		closeDB(helper, "fallback", fallback)
	}
	return d, cleanup, nil
}

func closeDB(helper *log.Helper, name string, db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		helper.Errorf("failed to close %s store: %v", name, err)
	}
}

// HasPrimary reports whether a primary store is configured.
func (d *Data) HasPrimary() bool {
	return d.primary != nil
}

// NewStoreRegistry builds a store pair per record kind. Fallback tables are
// created eagerly; primary tables on first use.
func NewStoreRegistry(d *Data) (*biz.StoreRegistry, error) {
	ctx := context.Background()
	pairs := make(map[model.RecordKind]biz.StorePair, len(model.AllKinds()))

	for _, kind := range model.AllKinds() {
		fallback := NewGormRecordStore(d.fallback, kind)
		if err := fallback.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("fallback schema: %w", err)
		}
		pair := biz.StorePair{Fallback: fallback}
		if d.primary != nil {
			pair.Primary = NewGormRecordStore(d.primary, kind)
		}
		pairs[kind] = pair
	}
	return biz.NewStoreRegistry(pairs)
}

// NewPrimaryProber returns nil in fallback-only mode.
func NewPrimaryProber(d *Data) biz.PrimaryProber {
	if d.primary == nil {
		return nil
	}
	return &PrimaryHealth{db: d.primary}
}

// NewFallbackOptimizer returns the compaction pass run after a sync.
func NewFallbackOptimizer(d *Data) biz.Optimizer {
	return &FallbackOptimizer{db: d.fallback, logger: log.NewHelper(d.logger)}
}

// NewStateMirror returns nil when Redis is not configured.
func NewStateMirror(rdb *redis.Client, cache CacheClient, logger log.Logger) biz.StateMirror {
	if rdb == nil {
		return nil
	}
	return NewBreakerStateRepo(rdb, cache, logger)
}
