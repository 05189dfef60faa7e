package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"SortLedger/internal/conf"
	"SortLedger/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("dial tcp 10.0.0.5:3306: connect: connection refused")

// memStore is an in-memory StoreAdapter with fault injection.
type memStore struct {
	kind model.RecordKind

	mu       sync.Mutex
	rows     map[string]model.Record
	commits  []string // record IDs in commit order
	down     bool
	faults   map[string]int // op → number of upcoming calls that fail
	faultErr map[string]error
	inserted int64 // rows actually written across all commits
}

func newMemStore(kind model.RecordKind) *memStore {
	return &memStore{
		kind:     kind,
		rows:     map[string]model.Record{},
		faults:   map[string]int{},
		faultErr: map[string]error{},
	}
}

func (s *memStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// failNext makes the next n calls of op fail.
func (s *memStore) failNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
	delete(s.faultErr, op)
}

// failNextWith makes the next n calls of op fail with err.
func (s *memStore) failNextWith(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
	s.faultErr[op] = err
}

// pendingFaults reports how many injected failures of op are left.
func (s *memStore) pendingFaults(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[op]
}

func (s *memStore) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(op)
}

func (s *memStore) checkLocked(op string) error {
	if s.down {
		return errStoreDown
	}
	if s.faults[op] > 0 {
		s.faults[op]--
		if err, ok := s.faultErr[op]; ok {
			return fmt.Errorf("injected %s failure: %w", op, err)
		}
		return fmt.Errorf("injected %s failure: %w", op, errStoreDown)
	}
	return nil
}

func (s *memStore) Kind() model.RecordKind { return s.kind }

func (s *memStore) Count(ctx context.Context) (int64, error) {
	if err := s.check("count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *memStore) ReadOldestBatch(ctx context.Context, limit int) ([]model.Record, error) {
	if err := s.check("read"); err != nil {
		return nil, err
	}
	all := s.sorted()
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) sorted() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.Record, 0, len(s.rows))
	for _, r := range s.rows {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})
	return all
}

func (s *memStore) ids() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]bool, len(s.rows))
	for id := range s.rows {
		ids[id] = true
	}
	return ids
}

func (s *memStore) commitOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commits...)
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) insertedRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}

func (s *memStore) seed(records ...model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.rows[r.ID] = r
	}
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.check("begin"); err != nil {
		return nil, err
	}
	return &memTx{store: s, deletes: map[string]bool{}}, nil
}

type memTx struct {
	store   *memStore
	inserts []model.Record
	deletes map[string]bool
	done    bool
}

func (tx *memTx) BulkInsert(ctx context.Context, batch []model.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := tx.store.check("insert"); err != nil {
		return 0, err
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	var n int64
	for _, r := range batch {
		if _, exists := tx.store.rows[r.ID]; exists {
			continue
		}
		tx.inserts = append(tx.inserts, r)
		n++
	}
	return n, nil
}

func (tx *memTx) BulkDelete(ctx context.Context, batch []model.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := tx.store.check("delete"); err != nil {
		return 0, err
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	var n int64
	for _, r := range batch {
		if _, exists := tx.store.rows[r.ID]; exists {
			tx.deletes[r.ID] = true
			n++
		}
	}
	return n, nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if err := tx.store.checkLocked("commit"); err != nil {
		return err
	}
	tx.done = true
	for _, r := range tx.inserts {
		if _, exists := tx.store.rows[r.ID]; exists {
			continue
		}
		tx.store.rows[r.ID] = r
		tx.store.commits = append(tx.store.commits, r.ID)
		tx.store.inserted++
	}
	for id := range tx.deletes {
		delete(tx.store.rows, id)
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.done = true
	tx.inserts = nil
	tx.deletes = map[string]bool{}
	return nil
}

type countingOptimizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (o *countingOptimizer) Optimize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.err
}

func (o *countingOptimizer) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// testStores is a registry over memStores for every kind.
type testStores struct {
	registry *StoreRegistry
	primary  map[model.RecordKind]*memStore
	fallback map[model.RecordKind]*memStore
}

func newTestStores(t *testing.T, withPrimary bool) *testStores {
	t.Helper()
	ts := &testStores{
		primary:  map[model.RecordKind]*memStore{},
		fallback: map[model.RecordKind]*memStore{},
	}
	pairs := map[model.RecordKind]StorePair{}
	for _, kind := range model.AllKinds() {
		fb := newMemStore(kind)
		ts.fallback[kind] = fb
		pair := StorePair{Fallback: fb}
		if withPrimary {
			p := newMemStore(kind)
			ts.primary[kind] = p
			pair.Primary = p
		}
		pairs[kind] = pair
	}
	registry, err := NewStoreRegistry(pairs)
	require.NoError(t, err)
	ts.registry = registry
	return ts
}

func (ts *testStores) setPrimaryDown(down bool) {
	for _, s := range ts.primary {
		s.setDown(down)
	}
}

func (ts *testStores) setFallbackDown(down bool) {
	for _, s := range ts.fallback {
		s.setDown(down)
	}
}

func testBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureRatio:      0.5,
		MinimumThroughput: 5,
		SamplingDuration:  30 * time.Second,
		BreakDuration:     30 * time.Second,
	}
}

func testSyncConf() *conf.Sync {
	return &conf.Sync{
		BatchSize:      1000,
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestEngine(ts *testStores, c *conf.Sync, optimizer Optimizer) *BatchSyncEngine {
	retry := NewRetryPolicy(c, testLogger(), WithSleeper(noSleep), WithJitterSource(func() float64 { return 0 }))
	return NewBatchSyncEngine(ts.registry, retry, c, optimizer, nil, testLogger())
}

func recordAt(kind model.RecordKind, ts time.Time) model.Record {
	return model.NewRecord(kind, ts, []byte(`{"parcel":"P-1"}`))
}
