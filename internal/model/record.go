// Package model holds the domain types shared by the biz and data layers.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordKind identifies one logical table of persisted operational events.
type RecordKind string

// Record kinds, listed in the order the sync engine drains them.
const (
	KindGeneralLog       RecordKind = "general_log"
	KindCommunicationLog RecordKind = "communication_log"
	KindMatchingLog      RecordKind = "matching_log"
	KindAPICallLog       RecordKind = "api_call_log"
	KindExceptionLog     RecordKind = "exception_log"
	KindChuteStatusLog   RecordKind = "chute_status_log"
	KindPerformanceLog   RecordKind = "performance_log"
)

var allKinds = []RecordKind{
	KindGeneralLog,
	KindCommunicationLog,
	KindMatchingLog,
	KindAPICallLog,
	KindExceptionLog,
	KindChuteStatusLog,
	KindPerformanceLog,
}

var tableNames = map[RecordKind]string{
	KindGeneralLog:       "sort_general_logs",
	KindCommunicationLog: "sort_communication_logs",
	KindMatchingLog:      "sort_matching_logs",
	KindAPICallLog:       "sort_api_call_logs",
	KindExceptionLog:     "sort_exception_logs",
	KindChuteStatusLog:   "sort_chute_status_logs",
	KindPerformanceLog:   "sort_performance_logs",
}

// AllKinds returns every record kind in deterministic sync order.
func AllKinds() []RecordKind {
	kinds := make([]RecordKind, len(allKinds))
	copy(kinds, allKinds)
	return kinds
}

// ParseRecordKind validates a kind name.
func ParseRecordKind(s string) (RecordKind, error) {
	k := RecordKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k RecordKind) Valid() bool {
	_, ok := tableNames[k]
	return ok
}

// TableName returns the table holding records of this kind in both stores.
func (k RecordKind) TableName() string {
	return tableNames[k]
}

// String returns the kind name.
func (k RecordKind) String() string {
	return string(k)
}

// Record is one immutable operational event. Only Kind and Timestamp are
// interpreted; Payload is opaque kind-specific JSON.
type Record struct {
	ID        string          `json:"id"`
	Kind      RecordKind      `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRecord builds a record with a fresh time-ordered ID. A zero timestamp
// is replaced with the current time.
func NewRecord(kind RecordKind, timestamp time.Time, payload json.RawMessage) Record {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return Record{
		ID:        NewRecordID(),
		Kind:      kind,
		Timestamp: timestamp,
		Payload:   payload,
	}
}

// NewRecordID returns a UUIDv7 string, falling back to v4 if the clock
// source fails.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecordIDs extracts the IDs of a batch, preserving order.
func RecordIDs(batch []Record) []string {
	ids := make([]string, 0, len(batch))
	for _, r := range batch {
		ids = append(ids, r.ID)
	}
	return ids
}
