package biz

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// Producer is the fire-and-forget interface handed to the code that
// generates operational events.
type Producer interface {
	Write(ctx context.Context, kind model.RecordKind, payload json.RawMessage, timestamp time.Time)
}

// AsyncWriter queues records for a pool of workers that call the
// DualStoreWriter. When the queue is full the record is written inline on
// the caller's goroutine instead of being dropped.
type AsyncWriter struct {
	writer  *DualStoreWriter
	queue   chan model.Record
	workers int
	logger  *pkglog.LogHelper

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	inline atomic.Int64
}

// NewAsyncWriter starts the worker pool. Call Close to drain it.
func NewAsyncWriter(writer *DualStoreWriter, c *conf.Writer, logger log.Logger) *AsyncWriter {
	queueSize, workers := c.QueueSize, c.Workers
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}

	w := &AsyncWriter{
		writer:  writer,
		queue:   make(chan model.Record, queueSize),
		workers: workers,
		logger:  pkglog.NewLogHelper(logger),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for record := range w.queue {
		w.writer.Write(context.Background(), record)
	}
}

// Write implements Producer.
func (w *AsyncWriter) Write(ctx context.Context, kind model.RecordKind, payload json.RawMessage, timestamp time.Time) {
	w.Submit(ctx, model.NewRecord(kind, timestamp, payload))
}

// Submit queues record. It never blocks on the stores unless the queue is
// full or the writer is closed, in which case the write happens inline.
func (w *AsyncWriter) Submit(ctx context.Context, record model.Record) {
	w.mu.RLock()
	if !w.closed {
		select {
		case w.queue <- record:
			w.mu.RUnlock()
			return
		default:
		}
	}
	w.mu.RUnlock()

	n := w.inline.Add(1)
	if n == 1 || n%100 == 0 {
		w.logger.Warnw("msg", "write queue full, writing inline",
			"kind", record.Kind.String(),
			"inline_writes", n,
			"type", "fallback")
	}
	w.writer.Write(ctx, record)
}

// Pending returns the number of queued records.
func (w *AsyncWriter) Pending() int {
	return len(w.queue)
}

// Close stops accepting queued writes and waits for the workers to drain
// the queue or ctx to expire.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Success("write queue drained")
		return nil
	case <-ctx.Done():
		w.logger.StorageError("write queue not drained before shutdown", "pending", len(w.queue))
		return ctx.Err()
	}
}
