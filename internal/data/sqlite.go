package data

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"SortLedger/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fallbackMaxConns allows the hot path to keep writing while a sync run
// holds a transaction. WAL mode serialises writers through busy_timeout.
const fallbackMaxConns = 4

// fallbackDSN builds a go-sqlite3 DSN carrying the pragmas, so that every
// pooled connection gets them and not only the first.
func fallbackDSN(c *conf.Fallback) string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	q.Set("_foreign_keys", "on")
	return "file:" + c.Path + "?" + q.Encode()
}

// openFallbackDB opens the local SQLite store. Unlike the primary, failure
// here aborts startup.
func openFallbackDB(c *conf.Fallback, l log.Logger) (*gorm.DB, error) {
	helper := log.NewHelper(l)

	if c == nil || c.Path == "" {
		return nil, fmt.Errorf("fallback store path is required")
	}
	if dir := filepath.Dir(c.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create fallback directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(fallbackDSN(c)), &gorm.Config{
		Logger:                 newGormLogger(helper),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(fallbackMaxConns)
	sqlDB.SetMaxIdleConns(fallbackMaxConns)

	var journal string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journal).Error; err != nil {
		return nil, fmt.Errorf("fallback store unusable: %w", err)
	}

	helper.Infow("msg", "fallback store opened", "path", c.Path, "journal_mode", journal, "type", "storage")
	return db, nil
}

// FallbackOptimizer compacts the fallback store after a sync run.
type FallbackOptimizer struct {
	db     *gorm.DB
	logger *log.Helper
}

// Optimize implements biz.Optimizer. It checkpoints the WAL and rebuilds
// the database file to return the space freed by drained records.
func (o *FallbackOptimizer) Optimize(ctx context.Context) error {
	start := time.Now()
	db := o.db.WithContext(ctx)

	if err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := db.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if err := db.Exec("PRAGMA optimize").Error; err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	o.logger.Infow("msg", "fallback store compacted",
		"duration_ms", time.Since(start).Milliseconds(),
		"type", "storage")
	return nil
}
