package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncWriter_DrainsOnClose(t *testing.T) {
	ts := newTestStores(t, true)
	w := NewAsyncWriter(newTestWriter(ts, newTestGate(newFakeClock())), &conf.Writer{QueueSize: 16, Workers: 4}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Write(context.Background(), model.KindPerformanceLog, []byte(`{"ms":12}`), at(12, i%60))
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, 200, ts.primary[model.KindPerformanceLog].size())
	assert.Zero(t, w.Pending())
}

func TestAsyncWriter_SubmitAfterCloseWritesInline(t *testing.T) {
	ts := newTestStores(t, false)
	w := NewAsyncWriter(newTestWriter(ts, newTestGate(newFakeClock())), &conf.Writer{QueueSize: 1, Workers: 1}, testLogger())
	require.NoError(t, w.Close(context.Background()))

	w.Submit(context.Background(), recordAt(model.KindGeneralLog, at(1, 0)))

	assert.Equal(t, 1, ts.fallback[model.KindGeneralLog].size())
}

func TestAsyncWriter_Defaults(t *testing.T) {
	ts := newTestStores(t, false)
	w := NewAsyncWriter(newTestWriter(ts, newTestGate(newFakeClock())), &conf.Writer{}, testLogger())
	defer func() { _ = w.Close(context.Background()) }()

	assert.Equal(t, 1, w.workers)
	assert.Equal(t, 1024, cap(w.queue))
}
