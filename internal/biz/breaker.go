package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"
	pkgerrors "SortLedger/pkg/errors"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// windowBuckets is the resolution of the sliding sampling window.
const windowBuckets = 10

// BreakerSettings configures a CircuitBreakerGate.
type BreakerSettings struct {
	FailureRatio      float64
	MinimumThroughput int
	SamplingDuration  time.Duration
	BreakDuration     time.Duration
}

// NewBreakerSettings converts the breaker configuration.
func NewBreakerSettings(c *conf.Breaker) BreakerSettings {
	return BreakerSettings{
		FailureRatio:      c.FailureRatio,
		MinimumThroughput: c.MinimumThroughput,
		SamplingDuration:  c.SamplingDuration,
		BreakDuration:     c.BreakDuration,
	}
}

// TransitionListener observes gate state changes. Listeners run on the
// goroutine that caused the transition, after the gate lock is released,
// and must not block.
type TransitionListener func(model.BreakerTransition)

type bucket struct {
	start    time.Time
	attempts int
	failures int
}

// CircuitBreakerGate guards calls to the primary store.
//
// Closed counts attempts and failures over a bucketed sliding window and
// opens once both the minimum throughput and the failure ratio are reached.
// Open rejects calls until the break duration has passed; the first call
// after that runs as the single HalfOpen trial. A successful trial closes
// the gate and schedules the recovery handler on its own goroutine.
type CircuitBreakerGate struct {
	settings BreakerSettings
	now      func() time.Time
	logger   *pkglog.LogHelper

	mu            sync.Mutex
	state         model.BreakerState
	generation    uint64
	changedAt     time.Time
	openUntil     time.Time
	buckets       [windowBuckets]bucket
	bucketWidth   time.Duration
	trialInFlight bool
	listeners     []TransitionListener
	onRecovered   func()
}

// GateOption customises a CircuitBreakerGate.
type GateOption func(*CircuitBreakerGate)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *CircuitBreakerGate) {
		g.now = now
	}
}

// NewCircuitBreakerGate creates a gate in the Closed state.
func NewCircuitBreakerGate(settings BreakerSettings, logger log.Logger, opts ...GateOption) *CircuitBreakerGate {
	g := &CircuitBreakerGate{
		settings: settings,
		now:      time.Now,
		logger:   pkglog.NewLogHelper(logger),
		state:    model.BreakerClosed,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.bucketWidth = settings.SamplingDuration / windowBuckets
	if g.bucketWidth <= 0 {
		g.bucketWidth = time.Millisecond
	}
	g.changedAt = g.now()
	return g
}

// NewPrimaryGate is the wire provider for the gate guarding the primary store.
func NewPrimaryGate(c *conf.Breaker, logger log.Logger) *CircuitBreakerGate {
	return NewCircuitBreakerGate(NewBreakerSettings(c), logger)
}

// AddListener registers a transition listener.
func (g *CircuitBreakerGate) AddListener(l TransitionListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// SetRecoveryHandler sets the function scheduled on every HalfOpen → Closed
// transition. It runs on a fresh goroutine; a panic is logged and swallowed.
func (g *CircuitBreakerGate) SetRecoveryHandler(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRecovered = fn
}

// Execute runs op if the gate allows it and reports whether op ran and
// succeeded. A rejected call, a returned error and a panic all yield false.
func (g *CircuitBreakerGate) Execute(ctx context.Context, op func(ctx context.Context) error) bool {
	generation, allowed, pending := g.beforeCall()
	g.dispatch(pending)
	if !allowed {
		return false
	}

	err := g.call(ctx, op)
	g.dispatch(g.afterCall(generation, err))
	return err == nil
}

// State returns the current state.
func (g *CircuitBreakerGate) State() model.BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Snapshot returns the state and the sampling window counters.
func (g *CircuitBreakerGate) Snapshot() model.BreakerSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked(g.now())
}

func (g *CircuitBreakerGate) call(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in guarded operation: %v", r)
		}
	}()
	return op(ctx)
}

// pendingEvents collects what a locked section decided so that logging,
// listeners and the recovery handler run after the lock is released.
type pendingEvents struct {
	transitions []model.BreakerTransition
	recovered   func()
	listeners   []TransitionListener
	cause       error
	attempts    int
	failures    int
}

func (g *CircuitBreakerGate) beforeCall() (uint64, bool, pendingEvents) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var pending pendingEvents

	switch g.state {
	case model.BreakerOpen:
		if now.Before(g.openUntil) {
			return g.generation, false, pending
		}
		g.transitionLocked(model.BreakerHalfOpen, now, &pending)
		g.trialInFlight = true
		return g.generation, true, pending
	case model.BreakerHalfOpen:
		if g.trialInFlight {
			return g.generation, false, pending
		}
		g.trialInFlight = true
		return g.generation, true, pending
	default:
		return g.generation, true, pending
	}
}

func (g *CircuitBreakerGate) afterCall(generation uint64, err error) pendingEvents {
	g.mu.Lock()
	defer g.mu.Unlock()

	var pending pendingEvents
	// The state changed while the call was in flight; its outcome belongs
	// to a window that no longer exists.
	if generation != g.generation {
		return pending
	}

	now := g.now()
	switch g.state {
	case model.BreakerClosed:
		g.recordLocked(now, err != nil)
		attempts, failures := g.countsLocked(now)
		if attempts >= g.settings.MinimumThroughput && attempts > 0 &&
			float64(failures)/float64(attempts) >= g.settings.FailureRatio {
			pending.cause, pending.attempts, pending.failures = err, attempts, failures
			g.openLocked(now, &pending)
		}
	case model.BreakerHalfOpen:
		g.trialInFlight = false
		if err != nil {
			pending.cause = err
			g.openLocked(now, &pending)
			return pending
		}
		g.transitionLocked(model.BreakerClosed, now, &pending)
		pending.recovered = g.onRecovered
	}
	return pending
}

func (g *CircuitBreakerGate) openLocked(now time.Time, pending *pendingEvents) {
	g.openUntil = now.Add(g.settings.BreakDuration)
	g.transitionLocked(model.BreakerOpen, now, pending)
}

func (g *CircuitBreakerGate) transitionLocked(to model.BreakerState, now time.Time, pending *pendingEvents) {
	from := g.state
	g.state = to
	g.generation++
	g.changedAt = now
	g.buckets = [windowBuckets]bucket{}
	if to != model.BreakerOpen {
		g.openUntil = time.Time{}
	}

	pending.transitions = append(pending.transitions, model.BreakerTransition{
		From:     from,
		To:       to,
		At:       now,
		Snapshot: g.snapshotLocked(now),
	})
	pending.listeners = g.listeners
}

func (g *CircuitBreakerGate) dispatch(pending pendingEvents) {
	for _, t := range pending.transitions {
		g.logTransition(t, pending)
		for _, l := range pending.listeners {
			l(t)
		}
	}
	if pending.recovered != nil {
		fn := pending.recovered
		go func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.SyncFailed("recovery handler panicked", "panic", fmt.Sprint(r))
				}
			}()
			fn()
		}()
	}
}

func (g *CircuitBreakerGate) logTransition(t model.BreakerTransition, pending pendingEvents) {
	switch t.To {
	case model.BreakerOpen:
		if t.From == model.BreakerHalfOpen {
			g.logger.Breaker("primary store trial failed, breaker reopened",
				"open_until", t.Snapshot.OpenUntil,
				"error", pending.cause,
				"error_type", pkgerrors.ErrorType(pending.cause))
			return
		}
		g.logger.Breaker("primary store breaker opened",
			"attempts", pending.attempts,
			"failures", pending.failures,
			"open_until", t.Snapshot.OpenUntil,
			"error", pending.cause,
			"error_type", pkgerrors.ErrorType(pending.cause))
	case model.BreakerHalfOpen:
		g.logger.Breaker("primary store breaker half-open, allowing trial call")
	case model.BreakerClosed:
		g.logger.BreakerRecovered("primary store breaker closed", "from", t.From.String())
	}
}

func (g *CircuitBreakerGate) recordLocked(now time.Time, failed bool) {
	start := now.Truncate(g.bucketWidth)
	idx := int((start.UnixNano() / int64(g.bucketWidth)) % windowBuckets)
	if idx < 0 {
		idx += windowBuckets
	}
	b := &g.buckets[idx]
	if !b.start.Equal(start) {
		*b = bucket{start: start}
	}
	b.attempts++
	if failed {
		b.failures++
	}
}

func (g *CircuitBreakerGate) countsLocked(now time.Time) (attempts, failures int) {
	cutoff := now.Add(-g.settings.SamplingDuration)
	for _, b := range g.buckets {
		if b.attempts == 0 || !b.start.After(cutoff) {
			continue
		}
		attempts += b.attempts
		failures += b.failures
	}
	return attempts, failures
}

func (g *CircuitBreakerGate) snapshotLocked(now time.Time) model.BreakerSnapshot {
	attempts, failures := g.countsLocked(now)
	return model.BreakerSnapshot{
		State:     g.state,
		StateName: g.state.String(),
		ChangedAt: g.changedAt,
		Attempts:  attempts,
		Failures:  failures,
		OpenUntil: g.openUntil,
	}
}
