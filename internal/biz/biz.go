// Package biz holds the durable-write core: the circuit breaker guarding
// the primary store, the dual-store writer, the retry policy and the batch
// sync engine that drains the fallback store after recovery.
package biz

import (
	"SortLedger/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewPrimaryGate,
	NewSyncRetryPolicy,
	NewDualStoreWriter,
	NewBatchSyncEngine,
	NewRecoveryUsecase,
	NewAsyncWriter,
	wire.Bind(new(Producer), new(*AsyncWriter)),
)

// NewSyncRetryPolicy is the wire provider for the sync retry policy.
func NewSyncRetryPolicy(c *conf.Sync, logger log.Logger) *RetryPolicy {
	return NewRetryPolicy(c, logger)
}
