package data

import (
	"context"
	"testing"
	"time"

	"SortLedger/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateRepo(t *testing.T) (*BreakerStateRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBreakerStateRepo(rdb, NewCacheClient(rdb), testLogger()), mr
}

func TestBreakerStateRepo_SnapshotRoundTrip(t *testing.T) {
	repo, mr := newTestStateRepo(t)
	ctx := context.Background()

	changed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := model.BreakerSnapshot{
		State:     model.BreakerOpen,
		ChangedAt: changed,
		Attempts:  12,
		Failures:  9,
		OpenUntil: changed.Add(30 * time.Second),
	}
	require.NoError(t, repo.SaveBreakerSnapshot(ctx, snap))

	assert.Equal(t, "open", mr.HGet("sortledger:breaker:primary", "state"))
	assert.Equal(t, "9", mr.HGet("sortledger:breaker:primary", "failures"))

	got, err := repo.LoadBreakerSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.BreakerOpen, got.State)
	assert.Equal(t, "open", got.StateName)
	assert.Equal(t, 12, got.Attempts)
	assert.Equal(t, 9, got.Failures)
	assert.True(t, changed.Equal(got.ChangedAt))
	assert.True(t, snap.OpenUntil.Equal(got.OpenUntil))
}

func TestBreakerStateRepo_ClosedClearsOpenUntil(t *testing.T) {
	repo, mr := newTestStateRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.SaveBreakerSnapshot(ctx, model.BreakerSnapshot{
		State: model.BreakerOpen, ChangedAt: now, OpenUntil: now.Add(time.Minute),
	}))
	require.NoError(t, repo.SaveBreakerSnapshot(ctx, model.BreakerSnapshot{
		State: model.BreakerClosed, ChangedAt: now,
	}))

	assert.Equal(t, "", mr.HGet("sortledger:breaker:primary", "open_until"))
	got, err := repo.LoadBreakerSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, got.State)
	assert.True(t, got.OpenUntil.IsZero())
}

func TestBreakerStateRepo_LoadMissing(t *testing.T) {
	repo, _ := newTestStateRepo(t)

	got, err := repo.LoadBreakerSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBreakerStateRepo_SyncReport(t *testing.T) {
	repo, mr := newTestStateRepo(t)
	ctx := context.Background()

	none, err := repo.LastSyncReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	started := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	report := &model.SyncReport{
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Progress: []model.SyncProgress{
			{Kind: model.KindMatchingLog, BatchesProcessed: 1, RecordsMigrated: 3},
			{Kind: model.KindExceptionLog, Failed: true, Error: "primary_insert: connection refused"},
		},
		Total:     3,
		Compacted: true,
	}
	require.NoError(t, repo.SaveSyncReport(ctx, report))
	assert.Equal(t, TTLSyncReport, mr.TTL("sortledger:sync:last"))

	got, err := repo.LastSyncReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Total)
	assert.True(t, got.Failed())
	assert.Len(t, got.Progress, 2)
	assert.True(t, started.Equal(got.StartedAt))

	mr.FastForward(TTLSyncReport + time.Second)
	expired, err := repo.LastSyncReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestNewStateMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	assert.NotNil(t, NewStateMirror(rdb, NewCacheClient(rdb), testLogger()))
	assert.Nil(t, NewStateMirror(nil, NewCacheClient(nil), testLogger()))
}
