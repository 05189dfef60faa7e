package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SortLedger/internal/model"
	pkgerrors "SortLedger/pkg/errors"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const probeTimeout = 3 * time.Second

// RecoveryUsecase connects the gate to the sync engine. It runs a sync on
// every HalfOpen → Closed transition, mirrors transitions to the state
// mirror, and offers probe/recheck entry points for the scheduler and the
// HTTP surface.
type RecoveryUsecase struct {
	gate     *CircuitBreakerGate
	engine   *BatchSyncEngine
	registry *StoreRegistry
	prober   PrimaryProber
	mirror   StateMirror
	logger   *pkglog.LogHelper
}

// NewRecoveryUsecase wires the recovery handler and the mirror listener
// into gate. prober and mirror may be nil.
func NewRecoveryUsecase(
	gate *CircuitBreakerGate,
	engine *BatchSyncEngine,
	registry *StoreRegistry,
	prober PrimaryProber,
	mirror StateMirror,
	logger log.Logger,
) *RecoveryUsecase {
	uc := &RecoveryUsecase{
		gate:     gate,
		engine:   engine,
		registry: registry,
		prober:   prober,
		mirror:   mirror,
		logger:   pkglog.NewLogHelper(logger),
	}
	gate.SetRecoveryHandler(uc.onRecovered)
	if mirror != nil {
		gate.AddListener(uc.mirrorTransition)
	}
	return uc
}

func (uc *RecoveryUsecase) onRecovered() {
	uc.runSync(context.Background(), "breaker_closed")
}

// TriggerSync starts a sync run on its own goroutine. It returns
// ErrSyncInProgress when a run is already active.
func (uc *RecoveryUsecase) TriggerSync(reason string) error {
	if !uc.registry.HasPrimary() {
		return ErrNoPrimaryStore
	}
	if uc.engine.Running() {
		return ErrSyncInProgress
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				uc.logger.SyncFailed("sync run panicked", "reason", reason, "panic", fmt.Sprint(r))
			}
		}()
		uc.runSync(context.Background(), reason)
	}()
	return nil
}

func (uc *RecoveryUsecase) runSync(ctx context.Context, reason string) {
	report, err := uc.engine.SyncAll(ctx)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			uc.logger.Sync("sync skipped, another run is active", "reason", reason)
			return
		}
		uc.logger.SyncFailed("sync run did not start", "reason", reason, "error", err)
		return
	}
	uc.logger.Sync("sync run complete",
		"reason", reason,
		"migrated", report.Total,
		"failed", report.Failed())
}

// Probe pings the primary store through the gate so that an Open breaker
// can recover without producer traffic. It reports whether the primary is
// considered healthy. When the gate is Closed no ping is made.
func (uc *RecoveryUsecase) Probe(ctx context.Context) bool {
	if uc.prober == nil || !uc.registry.HasPrimary() {
		return false
	}
	if uc.gate.State() == model.BreakerClosed {
		return true
	}
	return uc.gate.Execute(ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		return uc.prober.Ping(pctx)
	})
}

// Recheck is the periodic safety net. With the gate Closed it drains any
// records left in the fallback store, such as writes that landed during
// an earlier run or records from before a restart; otherwise it probes.
func (uc *RecoveryUsecase) Recheck(ctx context.Context) {
	if !uc.registry.HasPrimary() {
		return
	}
	if uc.gate.State() != model.BreakerClosed {
		healthy := uc.Probe(ctx)
		uc.logger.Scheduler("primary probe", "healthy", healthy, "state", uc.gate.State().String())
		return
	}

	pending, err := uc.PendingFallback(ctx)
	if err != nil {
		uc.logger.Warnw("msg", "failed to count fallback records",
			"error", err,
			"error_type", pkgerrors.ErrorType(err),
			"type", "scheduler")
		return
	}
	if pending == 0 || uc.engine.Running() {
		return
	}
	uc.logger.Scheduler("fallback records pending while primary healthy", "pending", pending)
	uc.runSync(ctx, "recheck")
}

// PendingFallback returns the number of records held in the fallback store
// across all kinds.
func (uc *RecoveryUsecase) PendingFallback(ctx context.Context) (int64, error) {
	var total int64
	for _, kind := range uc.registry.Kinds() {
		pair, err := uc.registry.Pair(kind)
		if err != nil {
			return 0, err
		}
		n, err := pair.Fallback.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", kind, err)
		}
		total += n
	}
	return total, nil
}

// StoreCounts returns per-kind record counts for both stores. The primary
// is only counted while its breaker is Closed, and a failed primary count
// is reported per kind rather than as an error.
func (uc *RecoveryUsecase) StoreCounts(ctx context.Context) ([]model.StoreCount, error) {
	countPrimary := uc.registry.HasPrimary() && uc.gate.State() == model.BreakerClosed

	counts := make([]model.StoreCount, 0, len(uc.registry.Kinds()))
	for _, kind := range uc.registry.Kinds() {
		pair, err := uc.registry.Pair(kind)
		if err != nil {
			return nil, err
		}
		c := model.StoreCount{Kind: kind}
		if c.Fallback, err = pair.Fallback.Count(ctx); err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		if countPrimary {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			n, err := pair.Primary.Count(pctx)
			cancel()
			if err != nil {
				c.PrimaryError = pkgerrors.ErrorType(err)
			} else {
				c.Primary = &n
			}
		}
		counts = append(counts, c)
	}
	return counts, nil
}

// LastSyncReport returns the mirrored report of the last run, or nil.
func (uc *RecoveryUsecase) LastSyncReport(ctx context.Context) (*model.SyncReport, error) {
	if uc.mirror == nil {
		return nil, nil
	}
	return uc.mirror.LastSyncReport(ctx)
}

// Snapshot returns the gate snapshot.
func (uc *RecoveryUsecase) Snapshot() model.BreakerSnapshot {
	return uc.gate.Snapshot()
}

// SyncRunning reports whether a sync run is active.
func (uc *RecoveryUsecase) SyncRunning() bool {
	return uc.engine.Running()
}

func (uc *RecoveryUsecase) mirrorTransition(t model.BreakerTransition) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := uc.mirror.SaveBreakerSnapshot(ctx, t.Snapshot); err != nil {
			uc.logger.Warnw("msg", "failed to mirror breaker state",
				"state", t.To.String(),
				"error", err,
				"type", "redis")
			return
		}
		uc.logger.Redis("breaker state mirrored", "state", t.To.String())
	}()
}
