package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends the Kratos log.Helper with category helpers.
// Each helper adds a "type" field which the console encoder maps to an emoji
// and which log shippers use to route persistence diagnostics.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates an enhanced log helper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// Startup logs service lifecycle events.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Success logs a completed operation.
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "success", kvs)...)
}

// Breaker logs circuit breaker state transitions.
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "breaker", kvs)...)
}

// BreakerRecovered logs the transition back to closed at info level.
func (h *LogHelper) BreakerRecovered(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "breaker", kvs)...)
}

// Fallback logs a hot-path write diverted to the fallback store.
func (h *LogHelper) Fallback(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "fallback", kvs)...)
}

// Sync logs recovery sync progress.
func (h *LogHelper) Sync(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "sync", kvs)...)
}

// SyncFailed logs a halted sync batch.
func (h *LogHelper) SyncFailed(msg string, kvs ...interface{}) {
	h.Errorw(withType(msg, "sync", kvs)...)
}

// Storage logs store-level operations at debug level.
func (h *LogHelper) Storage(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "storage", kvs)...)
}

// StorageError logs a store failure that could not be absorbed.
func (h *LogHelper) StorageError(msg string, kvs ...interface{}) {
	h.Errorw(withType(msg, "storage", kvs)...)
}

// Redis logs state-mirror operations.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Scheduler logs cron-driven jobs.
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// RequestWithContext logs an HTTP request, taking the request ID from ctx.
// Requests slower than one second are additionally reported at warn level.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	requestID := GetRequestID(ctx)
	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, url, status, durationMs, requestID)

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	allKvs = append(allKvs,
		"type", "request",
		"request_id", requestID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)

	if durationMs > 1000 {
		h.Warnw(
			"msg", fmt.Sprintf("[%s] Slow request | %s %s | %dms", requestID, method, url, durationMs),
			"request_id", requestID,
			"duration_ms", durationMs,
			"type", "request",
		)
	}
}
