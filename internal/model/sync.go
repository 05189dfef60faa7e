package model

import "time"

// SyncProgress tracks one kind during a single recovery sync run.
type SyncProgress struct {
	Kind             RecordKind `json:"kind"`
	BatchesProcessed int        `json:"batches_processed"`
	RecordsMigrated  int        `json:"records_migrated"`
	// RecordsReplayed counts records that were already present in the
	// primary store, left behind by an earlier run that halted after the
	// primary commit.
	RecordsReplayed int  `json:"records_replayed"`
	Failed          bool `json:"failed"`
	// Rejected is set when the primary refused the batch data itself. Such
	// a kind halts on every run until the offending rows are dealt with.
	Rejected bool   `json:"rejected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SyncReport summarises one SyncAll run.
type SyncReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Progress   []SyncProgress `json:"progress"`
	Total      int            `json:"total"`
	Compacted  bool           `json:"compacted"`
}

// Failed reports whether any kind halted during the run.
func (r *SyncReport) Failed() bool {
	for _, p := range r.Progress {
		if p.Failed {
			return true
		}
	}
	return false
}

// StoreCount is the number of records held per store for one kind.
// Primary is nil when the primary store is not configured, unreachable or
// skipped because its breaker is open.
type StoreCount struct {
	Kind         RecordKind `json:"kind"`
	Primary      *int64     `json:"primary,omitempty"`
	Fallback     int64      `json:"fallback"`
	PrimaryError string     `json:"primary_error,omitempty"`
}
