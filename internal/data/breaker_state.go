package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SortLedger/internal/biz"
	"SortLedger/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// BreakerStateRepo mirrors the primary-store breaker and the last sync
// report to Redis for operators. Nothing reads the mirror back as state;
// the in-process gate stays authoritative.
type BreakerStateRepo struct {
	rdb    *redis.Client
	cache  CacheClient
	logger *log.Helper
}

var _ biz.StateMirror = (*BreakerStateRepo)(nil)

// NewBreakerStateRepo creates the Redis mirror.
func NewBreakerStateRepo(rdb *redis.Client, cache CacheClient, logger log.Logger) *BreakerStateRepo {
	return &BreakerStateRepo{
		rdb:    rdb,
		cache:  cache,
		logger: log.NewHelper(logger),
	}
}

func breakerKey() string {
	return BuildCacheKey(CacheKeyBreaker, "primary")
}

func syncReportKey() string {
	return BuildCacheKey(CacheKeySync, "last")
}

// SaveBreakerSnapshot implements biz.StateMirror.
func (r *BreakerStateRepo) SaveBreakerSnapshot(ctx context.Context, s model.BreakerSnapshot) error {
	if r.rdb == nil {
		return ErrCacheUnavailable
	}

	fields := map[string]interface{}{
		"state":      s.State.String(),
		"changed_at": s.ChangedAt.UTC().Format(time.RFC3339Nano),
		"attempts":   s.Attempts,
		"failures":   s.Failures,
		"open_until": "",
	}
	if !s.OpenUntil.IsZero() {
		fields["open_until"] = s.OpenUntil.UTC().Format(time.RFC3339Nano)
	}

	if err := r.rdb.HSet(ctx, breakerKey(), fields).Err(); err != nil {
		return fmt.Errorf("failed to mirror breaker state: %w", err)
	}
	return nil
}

// LoadBreakerSnapshot returns the mirrored snapshot, or nil if none was written.
func (r *BreakerStateRepo) LoadBreakerSnapshot(ctx context.Context) (*model.BreakerSnapshot, error) {
	if r.rdb == nil {
		return nil, ErrCacheUnavailable
	}

	values, err := r.rdb.HGetAll(ctx, breakerKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker mirror: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	state := model.ParseBreakerState(values["state"])
	snap := &model.BreakerSnapshot{State: state, StateName: state.String()}
	snap.Attempts, _ = strconv.Atoi(values["attempts"])
	snap.Failures, _ = strconv.Atoi(values["failures"])
	if t, err := time.Parse(time.RFC3339Nano, values["changed_at"]); err == nil {
		snap.ChangedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, values["open_until"]); err == nil {
		snap.OpenUntil = t
	}
	return snap, nil
}

// SaveSyncReport implements biz.StateMirror.
func (r *BreakerStateRepo) SaveSyncReport(ctx context.Context, report *model.SyncReport) error {
	if err := r.cache.Set(ctx, syncReportKey(), report, TTLSyncReport); err != nil {
		return err
	}
	r.logger.Debugw("msg", "sync report mirrored", "total", report.Total, "type", "redis")
	return nil
}

// LastSyncReport implements biz.StateMirror. It returns nil when no run
// finished within the report TTL.
func (r *BreakerStateRepo) LastSyncReport(ctx context.Context) (*model.SyncReport, error) {
	var report model.SyncReport
	if err := r.cache.Get(ctx, syncReportKey(), &report); err != nil {
		if errors.Is(err, ErrCacheNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}
