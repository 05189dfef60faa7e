package biz

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"
	pkgerrors "SortLedger/pkg/errors"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const mirrorTimeout = 2 * time.Second

// BatchSyncEngine drains the fallback store into the primary store.
//
// Kinds are processed one after another in registry order. Within a kind
// records move oldest first in fixed-size batches; a batch is deleted from
// the fallback store only after its primary transaction committed, and the
// first failing batch halts the kind.
type BatchSyncEngine struct {
	registry   *StoreRegistry
	retry      *RetryPolicy
	batchSize  int
	runTimeout time.Duration
	optimizer  Optimizer
	mirror     StateMirror
	logger     *pkglog.LogHelper

	running atomic.Bool
	runs    atomic.Int64
}

// NewBatchSyncEngine creates the sync engine. optimizer and mirror may be nil.
func NewBatchSyncEngine(
	registry *StoreRegistry,
	retry *RetryPolicy,
	c *conf.Sync,
	optimizer Optimizer,
	mirror StateMirror,
	logger log.Logger,
) *BatchSyncEngine {
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &BatchSyncEngine{
		registry:   registry,
		retry:      retry,
		batchSize:  batchSize,
		runTimeout: c.RunTimeout,
		optimizer:  optimizer,
		mirror:     mirror,
		logger:     pkglog.NewLogHelper(logger),
	}
}

// Running reports whether a sync run is in progress.
func (e *BatchSyncEngine) Running() bool {
	return e.running.Load()
}

// Runs returns the number of SyncAll runs started since creation.
func (e *BatchSyncEngine) Runs() int64 {
	return e.runs.Load()
}

// SyncAll drains every kind and returns the run report. A halted kind is
// recorded in the report, not returned as an error; the error is reserved
// for runs that could not start.
func (e *BatchSyncEngine) SyncAll(ctx context.Context) (*model.SyncReport, error) {
	if !e.registry.HasPrimary() {
		return nil, ErrNoPrimaryStore
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)
	e.runs.Add(1)

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	report := &model.SyncReport{StartedAt: time.Now()}
	e.logger.Sync("recovery sync started", "kinds", len(e.registry.Kinds()))

	for _, kind := range e.registry.Kinds() {
		progress := e.syncKind(ctx, kind)
		report.Progress = append(report.Progress, progress)
		report.Total += progress.RecordsMigrated
	}

	if report.Total > 0 && e.optimizer != nil {
		if err := e.optimizer.Optimize(ctx); err != nil {
			e.logger.Warnw(
				"msg", "fallback store compaction failed",
				"error", err,
				"error_type", pkgerrors.ErrorType(err),
				"type", "sync",
			)
		} else {
			report.Compacted = true
		}
	}

	report.FinishedAt = time.Now()
	e.logger.Sync("recovery sync finished",
		"migrated", report.Total,
		"failed", report.Failed(),
		"compacted", report.Compacted,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds())

	e.saveReport(ctx, report)
	return report, nil
}

// SyncKind drains a single kind and returns the number of records moved.
func (e *BatchSyncEngine) SyncKind(ctx context.Context, kind model.RecordKind) (int, error) {
	if !e.registry.HasPrimary() {
		return 0, ErrNoPrimaryStore
	}
	if _, err := e.registry.Pair(kind); err != nil {
		return 0, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrSyncInProgress
	}
	defer e.running.Store(false)

	progress := e.syncKind(ctx, kind)
	if progress.Failed {
		return progress.RecordsMigrated, errors.New(progress.Error)
	}
	return progress.RecordsMigrated, nil
}

func (e *BatchSyncEngine) syncKind(ctx context.Context, kind model.RecordKind) model.SyncProgress {
	progress := model.SyncProgress{Kind: kind}
	pair, _ := e.registry.Pair(kind)

	fail := func(stage string, err error) model.SyncProgress {
		progress.Failed = true
		progress.Rejected = pkgerrors.IsRejected(err)
		progress.Error = fmt.Sprintf("%s: %v", stage, err)
		errorClass := "transient"
		if progress.Rejected {
			errorClass = "rejected"
		}
		e.logger.SyncFailed("sync halted for kind",
			"kind", kind.String(),
			"stage", stage,
			"batches", progress.BatchesProcessed,
			"migrated", progress.RecordsMigrated,
			"error", err,
			"error_type", pkgerrors.ErrorType(err),
			"error_class", errorClass)
		return progress
	}

	total, err := pair.Fallback.Count(ctx)
	if err != nil {
		return fail("count", err)
	}
	if total == 0 {
		return progress
	}

	// Records written to the fallback store during this run are left for
	// the next one, so the loop is bounded by the initial count.
	maxBatches := int((total + int64(e.batchSize) - 1) / int64(e.batchSize))
	e.logger.Sync("syncing kind", "kind", kind.String(), "pending", total, "batches", maxBatches)

	for i := 0; i < maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return fail("canceled", err)
		}

		moved, replayed, err := e.migrateBatch(ctx, pair)
		if err != nil {
			return fail(stageOf(err), err)
		}
		if moved == 0 {
			break
		}

		progress.BatchesProcessed++
		progress.RecordsMigrated += moved
		progress.RecordsReplayed += replayed
		e.logger.Sync("batch migrated",
			"kind", kind.String(),
			"batch", progress.BatchesProcessed,
			"records", moved,
			"replayed", replayed,
			"migrated", progress.RecordsMigrated,
			"pending", total-int64(progress.RecordsMigrated))
	}

	return progress
}

// batchError tags a batch failure with the step it happened in.
type batchError struct {
	stage string
	err   error
}

func (e *batchError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *batchError) Unwrap() error { return e.err }

func stageOf(err error) string {
	var be *batchError
	if errors.As(err, &be) {
		return be.stage
	}
	return "batch"
}

// migrateBatch moves the oldest batch. It returns the number of records
// removed from the fallback store and how many of them were already in
// the primary store.
func (e *BatchSyncEngine) migrateBatch(ctx context.Context, pair StorePair) (moved, replayed int, err error) {
	batch, err := pair.Fallback.ReadOldestBatch(ctx, e.batchSize)
	if err != nil {
		return 0, 0, &batchError{"read", err}
	}
	if len(batch) == 0 {
		return 0, 0, nil
	}

	fallbackTx, err := pair.Fallback.Begin(ctx)
	if err != nil {
		return 0, 0, &batchError{"fallback_begin", err}
	}
	defer func() { _ = fallbackTx.Rollback() }()

	inserted, err := Retry(ctx, e.retry, func(ctx context.Context) (int64, error) {
		return insertBatch(ctx, pair.Primary, batch)
	})
	if err != nil {
		return 0, 0, &batchError{"primary_insert", err}
	}

	deleted, err := fallbackTx.BulkDelete(ctx, batch)
	if err != nil {
		return 0, 0, &batchError{"fallback_delete", err}
	}
	if err := fallbackTx.Commit(); err != nil {
		return 0, 0, &batchError{"fallback_commit", err}
	}

	if deleted != int64(len(batch)) {
		e.logger.Warnw(
			"msg", "fallback delete count differs from batch size",
			"kind", pair.Fallback.Kind().String(),
			"batch", len(batch),
			"deleted", deleted,
			"type", "sync",
		)
	}
	return len(batch), len(batch) - int(inserted), nil
}

// insertBatch writes batch to the primary store in one transaction.
func insertBatch(ctx context.Context, store StoreAdapter, batch []model.Record) (int64, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := tx.BulkInsert(ctx, batch)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (e *BatchSyncEngine) saveReport(ctx context.Context, report *model.SyncReport) {
	if e.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := e.mirror.SaveSyncReport(mctx, report); err != nil {
		e.logger.Warnw("msg", "failed to mirror sync report", "error", err, "type", "redis")
	}
}
