package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SortLedger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okOp(context.Context) error   { return nil }
func failOp(context.Context) error { return errStoreDown }

func newTestGate(clock *fakeClock) *CircuitBreakerGate {
	return NewCircuitBreakerGate(testBreakerSettings(), testLogger(), WithClock(clock.Now))
}

func openGate(t *testing.T, g *CircuitBreakerGate) {
	t.Helper()
	for i := 0; i < 5; i++ {
		g.Execute(context.Background(), failOp)
	}
	require.Equal(t, model.BreakerOpen, g.State())
}

func TestGate_StartsClosed(t *testing.T) {
	g := newTestGate(newFakeClock())

	assert.Equal(t, model.BreakerClosed, g.State())
	assert.True(t, g.Execute(context.Background(), okOp))
	assert.False(t, g.Execute(context.Background(), failOp))
}

func TestGate_OpensOnRatioAndThroughput(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		wantState model.BreakerState
	}{
		{"below minimum throughput", 0, 4, model.BreakerClosed},
		{"ratio below threshold", 3, 2, model.BreakerClosed},
		{"ratio at threshold", 3, 3, model.BreakerOpen},
		{"all failures", 0, 5, model.BreakerOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(newFakeClock())
			for i := 0; i < tt.successes; i++ {
				g.Execute(context.Background(), okOp)
			}
			for i := 0; i < tt.failures; i++ {
				g.Execute(context.Background(), failOp)
			}
			assert.Equal(t, tt.wantState, g.State())
		})
	}
}

func TestGate_WindowForgetsOldFailures(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	for i := 0; i < 4; i++ {
		g.Execute(context.Background(), failOp)
	}
	clock.Advance(31 * time.Second)

	g.Execute(context.Background(), failOp)
	assert.Equal(t, model.BreakerClosed, g.State())
	assert.Equal(t, 1, g.Snapshot().Attempts)
}

func TestGate_OpenRejectsWithoutCalling(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)
	openGate(t, g)

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		ok := g.Execute(context.Background(), func(context.Context) error {
			calls.Add(1)
			return nil
		})
		assert.False(t, ok)
	}
	assert.Zero(t, calls.Load())

	snap := g.Snapshot()
	assert.Equal(t, "open", snap.StateName)
	assert.Equal(t, clock.Now().Add(30*time.Second), snap.OpenUntil)
}

func TestGate_HalfOpenTrial(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(clock)
		openGate(t, g)

		clock.Advance(30 * time.Second)
		var seen model.BreakerState
		ok := g.Execute(context.Background(), func(context.Context) error {
			seen = g.State()
			return nil
		})

		assert.True(t, ok)
		assert.Equal(t, model.BreakerHalfOpen, seen)
		assert.Equal(t, model.BreakerClosed, g.State())
	})

	t.Run("failure reopens and restarts break", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(clock)
		openGate(t, g)

		clock.Advance(30 * time.Second)
		assert.False(t, g.Execute(context.Background(), failOp))
		assert.Equal(t, model.BreakerOpen, g.State())
		assert.Equal(t, clock.Now().Add(30*time.Second), g.Snapshot().OpenUntil)

		clock.Advance(29 * time.Second)
		assert.False(t, g.Execute(context.Background(), okOp))
		assert.Equal(t, model.BreakerOpen, g.State())
	})

	t.Run("panic counts as failure", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(clock)
		openGate(t, g)

		clock.Advance(30 * time.Second)
		assert.NotPanics(t, func() {
			ok := g.Execute(context.Background(), func(context.Context) error { panic("driver bug") })
			assert.False(t, ok)
		})
		assert.Equal(t, model.BreakerOpen, g.State())
	})
}

func TestGate_HalfOpenAllowsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)
	openGate(t, g)
	clock.Advance(30 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		ok := g.Execute(context.Background(), func(context.Context) error {
			calls.Add(1)
			return nil
		})
		assert.False(t, ok)
	}
	assert.Zero(t, calls.Load())
	assert.Equal(t, model.BreakerHalfOpen, g.State())

	close(release)
	wg.Wait()
	assert.Equal(t, model.BreakerClosed, g.State())
}

func TestGate_StaleResultIgnoredAfterTransition(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return errors.New("late failure")
		})
	}()
	<-started

	openGate(t, g)
	clock.Advance(30 * time.Second)
	require.True(t, g.Execute(context.Background(), okOp))
	require.Equal(t, model.BreakerClosed, g.State())

	close(release)
	<-done
	assert.Equal(t, model.BreakerClosed, g.State())
	assert.Zero(t, g.Snapshot().Failures)
}

func TestGate_RecoveryHandlerFiresOncePerClose(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	fired := make(chan struct{}, 4)
	g.SetRecoveryHandler(func() { fired <- struct{}{} })

	var transitions []model.BreakerTransition
	var mu sync.Mutex
	g.AddListener(func(tr model.BreakerTransition) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, tr)
	})

	openGate(t, g)
	clock.Advance(30 * time.Second)
	require.True(t, g.Execute(context.Background(), okOp))
	for i := 0; i < 10; i++ {
		g.Execute(context.Background(), okOp)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("recovery handler not called")
	}
	select {
	case <-fired:
		t.Fatal("recovery handler called twice")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.Equal(t, model.BreakerOpen, transitions[0].To)
	assert.Equal(t, model.BreakerHalfOpen, transitions[1].To)
	assert.Equal(t, model.BreakerClosed, transitions[2].To)
	assert.Equal(t, model.BreakerHalfOpen, transitions[2].From)
}

func TestGate_RecoveryHandlerPanicIsContained(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock)

	called := make(chan struct{})
	g.SetRecoveryHandler(func() {
		close(called)
		panic("sync exploded")
	})

	openGate(t, g)
	clock.Advance(30 * time.Second)
	assert.True(t, g.Execute(context.Background(), okOp))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("recovery handler not called")
	}
	assert.Equal(t, model.BreakerClosed, g.State())
	assert.True(t, g.Execute(context.Background(), okOp))
}

func TestGate_ConcurrentExecute(t *testing.T) {
	g := newTestGate(newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				g.Execute(context.Background(), okOp)
			} else {
				g.Execute(context.Background(), failOp)
			}
		}(i)
	}
	wg.Wait()

	snap := g.Snapshot()
	assert.Contains(t, []model.BreakerState{model.BreakerClosed, model.BreakerOpen}, snap.State)
}
