package biz

import (
	"context"
	"errors"
	"fmt"

	"SortLedger/internal/model"
)

var (
	// ErrUnknownKind is returned for a record kind with no registered stores.
	ErrUnknownKind = errors.New("unknown record kind")
	// ErrNoFallbackStore is returned when a kind is registered without a fallback store.
	ErrNoFallbackStore = errors.New("fallback store not configured")
	// ErrNoPrimaryStore is returned by sync operations in fallback-only mode.
	ErrNoPrimaryStore = errors.New("primary store not configured")
	// ErrSyncInProgress is returned when a sync run is requested while another is running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// StoreAdapter is one physical store's table for one record kind.
// Implementations must be safe for concurrent use.
type StoreAdapter interface {
	Kind() model.RecordKind
	Count(ctx context.Context) (int64, error)
	// ReadOldestBatch returns up to limit records ordered by timestamp, oldest first.
	ReadOldestBatch(ctx context.Context, limit int) ([]model.Record, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction scope on a StoreAdapter. Rollback after Commit is a no-op.
type Tx interface {
	// BulkInsert inserts the batch and returns the number of rows actually
	// written. Records whose ID is already present are skipped.
	BulkInsert(ctx context.Context, batch []model.Record) (int64, error)
	// BulkDelete removes the batch by ID and returns the number of rows deleted.
	BulkDelete(ctx context.Context, batch []model.Record) (int64, error)
	Commit() error
	Rollback() error
}

// PrimaryProber checks primary store reachability without writing.
type PrimaryProber interface {
	Ping(ctx context.Context) error
}

// Optimizer compacts a store after records were drained from it.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// StateMirror publishes breaker and sync diagnostics outside the process.
// It is never read back as state.
type StateMirror interface {
	SaveBreakerSnapshot(ctx context.Context, snapshot model.BreakerSnapshot) error
	SaveSyncReport(ctx context.Context, report *model.SyncReport) error
	LastSyncReport(ctx context.Context) (*model.SyncReport, error)
}

// StorePair routes one record kind to its two stores. Primary is nil in
// fallback-only mode.
type StorePair struct {
	Primary  StoreAdapter
	Fallback StoreAdapter
}

// StoreRegistry holds the store pair for every record kind.
type StoreRegistry struct {
	pairs      map[model.RecordKind]StorePair
	kinds      []model.RecordKind
	hasPrimary bool
}

// NewStoreRegistry validates pairs and orders them by model.AllKinds.
// Either every kind has a primary store or none does.
func NewStoreRegistry(pairs map[model.RecordKind]StorePair) (*StoreRegistry, error) {
	r := &StoreRegistry{pairs: make(map[model.RecordKind]StorePair, len(pairs))}

	withPrimary := 0
	for kind, pair := range pairs {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}
		if pair.Fallback == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFallbackStore, kind)
		}
		if pair.Primary != nil {
			withPrimary++
		}
		r.pairs[kind] = pair
	}
	if withPrimary != 0 && withPrimary != len(pairs) {
		return nil, fmt.Errorf("primary store configured for %d of %d kinds", withPrimary, len(pairs))
	}
	r.hasPrimary = withPrimary > 0

	for _, kind := range model.AllKinds() {
		if _, ok := r.pairs[kind]; ok {
			r.kinds = append(r.kinds, kind)
		}
	}
	return r, nil
}

// Pair returns the stores for kind.
func (r *StoreRegistry) Pair(kind model.RecordKind) (StorePair, error) {
	pair, ok := r.pairs[kind]
	if !ok {
		return StorePair{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return pair, nil
}

// Kinds returns the registered kinds in sync order.
func (r *StoreRegistry) Kinds() []model.RecordKind {
	kinds := make([]model.RecordKind, len(r.kinds))
	copy(kinds, r.kinds)
	return kinds
}

// HasPrimary reports whether a primary store is configured.
func (r *StoreRegistry) HasPrimary() bool {
	return r.hasPrimary
}

// insertOne writes a single record in its own transaction.
func insertOne(ctx context.Context, store StoreAdapter, record model.Record) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.BulkInsert(ctx, []model.Record{record}); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
