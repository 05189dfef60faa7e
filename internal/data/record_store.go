package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"SortLedger/internal/biz"
	"SortLedger/internal/model"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// deleteChunk bounds the number of IDs bound into one DELETE statement.
	deleteChunk = 500
	// schemaTimeout bounds the shared CREATE TABLE run.
	schemaTimeout = 30 * time.Second
)

// recordRow is the row layout shared by every kind table in both stores.
type recordRow struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Kind       string    `gorm:"column:kind"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
	Payload    string    `gorm:"column:payload"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func toRow(r model.Record, now time.Time) recordRow {
	payload := string(r.Payload)
	if payload == "" {
		payload = "null"
	}
	return recordRow{
		ID:         r.ID,
		Kind:       r.Kind.String(),
		OccurredAt: r.Timestamp.UTC(),
		Payload:    payload,
		CreatedAt:  now,
	}
}

func (row recordRow) toRecord() model.Record {
	return model.Record{
		ID:        row.ID,
		Kind:      model.RecordKind(row.Kind),
		Timestamp: row.OccurredAt.UTC(),
		Payload:   json.RawMessage(row.Payload),
	}
}

// GormRecordStore is the biz.StoreAdapter for one kind table in one store.
// The table is created on first use, so a primary that is down at startup
// gets its schema once it comes back.
type GormRecordStore struct {
	db    *gorm.DB
	kind  model.RecordKind
	table string

	schema      singleflight.Group
	schemaReady atomic.Bool
}

var _ biz.StoreAdapter = (*GormRecordStore)(nil)

// NewGormRecordStore creates the store adapter for kind on db.
func NewGormRecordStore(db *gorm.DB, kind model.RecordKind) *GormRecordStore {
	return &GormRecordStore{db: db, kind: kind, table: kind.TableName()}
}

// Kind implements biz.StoreAdapter.
func (s *GormRecordStore) Kind() model.RecordKind {
	return s.kind
}

// EnsureSchema creates the kind table and its ordering index if missing.
// Concurrent callers share one DDL run and each waits only as long as its
// own ctx allows. A failed run is not remembered; the next call retries.
func (s *GormRecordStore) EnsureSchema(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}

	ch := s.schema.DoChan(s.table, func() (interface{}, error) {
		if s.schemaReady.Load() {
			return nil, nil
		}
		ddlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), schemaTimeout)
		defer cancel()
		if err := s.createSchema(ddlCtx); err != nil {
			return nil, err
		}
		s.schemaReady.Store(true)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("create table %s: %w", s.table, ctx.Err())
	}
}

func (s *GormRecordStore) createSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, stmt := range schemaStatements(db.Dialector.Name(), s.table) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	return nil
}

func schemaStatements(dialect, table string) []string {
	if dialect == "mysql" {
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS `%s` ("+
				"`id` VARCHAR(36) NOT NULL,"+
				"`kind` VARCHAR(32) NOT NULL,"+
				"`occurred_at` DATETIME(3) NOT NULL,"+
				"`payload` LONGTEXT NOT NULL,"+
				"`created_at` DATETIME(3) NOT NULL,"+
				"PRIMARY KEY (`id`),"+
				"KEY `idx_%s_occurred` (`occurred_at`, `id`)"+
				") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", table, table)}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (`+
			`"id" TEXT NOT NULL PRIMARY KEY,`+
			`"kind" TEXT NOT NULL,`+
			`"occurred_at" DATETIME NOT NULL,`+
			`"payload" TEXT NOT NULL,`+
			`"created_at" DATETIME NOT NULL)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_occurred" ON "%s" ("occurred_at", "id")`, table, table),
	}
}

// Count implements biz.StoreAdapter.
func (s *GormRecordStore) Count(ctx context.Context) (int64, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// ReadOldestBatch implements biz.StoreAdapter. Ties on timestamp are broken
// by ID, which is time-ordered for records created by this service.
func (s *GormRecordStore) ReadOldestBatch(ctx context.Context, limit int) ([]model.Record, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Table(s.table).
		Order("occurred_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.table, err)
	}

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// Begin implements biz.StoreAdapter.
func (s *GormRecordStore) Begin(ctx context.Context) (biz.Tx, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin %s: %w", s.table, tx.Error)
	}
	return &gormTx{tx: tx, table: s.table}, nil
}

type gormTx struct {
	tx    *gorm.DB
	table string
	done  bool
}

// BulkInsert skips rows whose ID already exists, so replaying a batch that
// an earlier run committed writes nothing.
func (t *gormTx) BulkInsert(ctx context.Context, batch []model.Record) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]recordRow, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, toRow(r, now))
	}

	result := t.tx.WithContext(ctx).
		Table(t.table).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, deleteChunk)
	if result.Error != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.table, result.Error)
	}
	return result.RowsAffected, nil
}

func (t *gormTx) BulkDelete(ctx context.Context, batch []model.Record) (int64, error) {
	ids := model.RecordIDs(batch)
	var deleted int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := start + deleteChunk
		if end > len(ids) {
			end = len(ids)
		}
		result := t.tx.WithContext(ctx).
			Table(t.table).
			Where("id IN ?", ids[start:end]).
			Delete(&recordRow{})
		if result.Error != nil {
			return deleted, fmt.Errorf("delete from %s: %w", t.table, result.Error)
		}
		deleted += result.RowsAffected
	}
	return deleted, nil
}

func (t *gormTx) Commit() error {
	if t.done {
		return fmt.Errorf("commit %s: transaction already finished", t.table)
	}
	t.done = true
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback().Error
}
