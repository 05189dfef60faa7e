package biz

import (
	"context"
	"errors"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"
	pkgerrors "SortLedger/pkg/errors"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

var errPrimaryPanicked = errors.New("primary write panicked")

// Destination is where a single write ended up.
type Destination int

const (
	// DestinationLost means neither store accepted the record.
	DestinationLost Destination = iota
	DestinationPrimary
	DestinationFallback
)

func (d Destination) String() string {
	switch d {
	case DestinationPrimary:
		return "primary"
	case DestinationFallback:
		return "fallback"
	default:
		return "lost"
	}
}

// DualStoreWriter is the hot write path. Each record goes to the primary
// store through the gate, or to the fallback store when the gate rejects
// the call or the primary write fails. Failures are never returned to the
// producer.
type DualStoreWriter struct {
	registry        *StoreRegistry
	gate            *CircuitBreakerGate
	primaryTimeout  time.Duration
	fallbackTimeout time.Duration
	logger          *pkglog.LogHelper
}

// NewDualStoreWriter creates the hot-path writer.
func NewDualStoreWriter(registry *StoreRegistry, gate *CircuitBreakerGate, c *conf.Data, logger log.Logger) *DualStoreWriter {
	w := &DualStoreWriter{
		registry: registry,
		gate:     gate,
		logger:   pkglog.NewLogHelper(logger),
	}
	if c.Primary != nil {
		w.primaryTimeout = c.Primary.WriteTimeout
	}
	if c.Fallback != nil {
		w.fallbackTimeout = c.Fallback.WriteTimeout
	}
	return w
}

// Write persists record into exactly one store. It never blocks on sync
// and never reports failure; a record rejected by both stores is logged.
func (w *DualStoreWriter) Write(ctx context.Context, record model.Record) {
	w.persist(ctx, record)
}

func (w *DualStoreWriter) persist(ctx context.Context, record model.Record) Destination {
	// Producers do not wait for the outcome, so their cancellation must
	// not abort the write.
	ctx = context.WithoutCancel(ctx)

	if record.ID == "" {
		record.ID = model.NewRecordID()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	pair, err := w.registry.Pair(record.Kind)
	if err != nil {
		w.logger.StorageError("record dropped",
			"kind", record.Kind.String(),
			"record_id", record.ID,
			"error", err)
		return DestinationLost
	}

	if pair.Primary == nil {
		return w.writeFallback(ctx, pair.Fallback, record, nil)
	}

	var primaryErr error
	attempted := false
	ok := w.gate.Execute(ctx, func(ctx context.Context) error {
		attempted = true
		writeCtx, cancel := withTimeout(ctx, w.primaryTimeout)
		defer cancel()
		primaryErr = insertOne(writeCtx, pair.Primary, record)
		return primaryErr
	})
	if ok {
		return DestinationPrimary
	}
	if attempted && primaryErr == nil {
		primaryErr = errPrimaryPanicked
	}
	return w.writeFallback(ctx, pair.Fallback, record, primaryErr)
}

func (w *DualStoreWriter) writeFallback(ctx context.Context, store StoreAdapter, record model.Record, primaryErr error) Destination {
	// The fallback has its own bound: a sync or VACUUM may hold the SQLite
	// write lock for up to busy_timeout.
	writeCtx, cancel := withTimeout(ctx, w.fallbackTimeout)
	defer cancel()

	if err := insertOne(writeCtx, store, record); err != nil {
		w.logger.StorageError("record lost, both stores unavailable",
			"kind", record.Kind.String(),
			"record_id", record.ID,
			"timestamp", record.Timestamp,
			"error", err,
			"error_type", pkgerrors.ErrorType(err),
			"primary_error", primaryErr)
		return DestinationLost
	}

	if w.registry.HasPrimary() {
		kvs := []interface{}{"kind", record.Kind.String(), "record_id", record.ID}
		if primaryErr != nil {
			kvs = append(kvs, "error", primaryErr, "error_type", pkgerrors.ErrorType(primaryErr))
		} else {
			kvs = append(kvs, "reason", "breaker_rejected")
		}
		w.logger.Fallback("record written to fallback store", kvs...)
	}
	return DestinationFallback
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
