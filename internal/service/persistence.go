package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SortLedger/internal/biz"
	"SortLedger/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// countsTTL bounds how often a status request hits the stores.
const countsTTL = 5 * time.Second

const countsKey = "all"

// Error reasons returned to HTTP clients.
const (
	ReasonUnknownKind      = "UNKNOWN_RECORD_KIND"
	ReasonInvalidPayload   = "INVALID_PAYLOAD"
	ReasonSyncInProgress   = "SYNC_IN_PROGRESS"
	ReasonNoPrimaryStore   = "PRIMARY_NOT_CONFIGURED"
	ReasonStoreUnavailable = "STORE_UNAVAILABLE"
)

// PersistenceUsecase is the part of biz.RecoveryUsecase the HTTP surface uses.
type PersistenceUsecase interface {
	Snapshot() model.BreakerSnapshot
	StoreCounts(ctx context.Context) ([]model.StoreCount, error)
	LastSyncReport(ctx context.Context) (*model.SyncReport, error)
	TriggerSync(reason string) error
	SyncRunning() bool
}

// HealthReply is returned by GET /healthz.
type HealthReply struct {
	Status string `json:"status"`
}

// StatusReply is returned by GET /v1/persistence/status.
type StatusReply struct {
	Breaker     model.BreakerSnapshot `json:"breaker"`
	SyncRunning bool                  `json:"sync_running"`
	Counts      []model.StoreCount    `json:"counts"`
	LastSync    *model.SyncReport     `json:"last_sync,omitempty"`
}

// SyncReply is returned by POST /v1/persistence/sync.
type SyncReply struct {
	Accepted bool `json:"accepted"`
}

// RecordRequest is the body of POST /v1/records/{kind}.
type RecordRequest struct {
	Kind      string          `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// RecordReply is returned once a record has been handed to the writer.
type RecordReply struct {
	Kind     string `json:"kind"`
	Accepted bool   `json:"accepted"`
}

// PersistenceService implements the persistence HTTP handlers.
type PersistenceService struct {
	uc       PersistenceUsecase
	producer biz.Producer
	counts   *expirable.LRU[string, []model.StoreCount]
	logger   *log.Helper
}

// NewPersistenceService creates the service.
func NewPersistenceService(uc PersistenceUsecase, producer biz.Producer, logger log.Logger) *PersistenceService {
	return &PersistenceService{
		uc:       uc,
		producer: producer,
		counts:   expirable.NewLRU[string, []model.StoreCount](1, nil, countsTTL),
		logger:   log.NewHelper(logger),
	}
}

// Health reports liveness. The service stays up while either store is down.
func (s *PersistenceService) Health(ctx context.Context) (*HealthReply, error) {
	return &HealthReply{Status: "ok"}, nil
}

// Status returns the breaker snapshot, per-kind counts and the last sync report.
func (s *PersistenceService) Status(ctx context.Context) (*StatusReply, error) {
	counts, ok := s.counts.Get(countsKey)
	if !ok {
		var err error
		counts, err = s.uc.StoreCounts(ctx)
		if err != nil {
			s.logger.Errorw("msg", "failed to count stored records", "error", err)
			return nil, kerrors.ServiceUnavailable(ReasonStoreUnavailable, "fallback store unavailable")
		}
		s.counts.Add(countsKey, counts)
	}

	reply := &StatusReply{
		Breaker:     s.uc.Snapshot(),
		SyncRunning: s.uc.SyncRunning(),
		Counts:      counts,
	}

	report, err := s.uc.LastSyncReport(ctx)
	if err != nil {
		s.logger.Warnw("msg", "last sync report unavailable", "error", err, "type", "redis")
	} else {
		reply.LastSync = report
	}
	return reply, nil
}

// TriggerSync starts a sync run in the background.
func (s *PersistenceService) TriggerSync(ctx context.Context) (*SyncReply, error) {
	err := s.uc.TriggerSync("manual")
	switch {
	case err == nil:
		s.counts.Purge()
		s.logger.Infow("msg", "manual sync triggered", "type", "sync")
		return &SyncReply{Accepted: true}, nil
	case errors.Is(err, biz.ErrSyncInProgress):
		return nil, kerrors.Conflict(ReasonSyncInProgress, "a sync run is already in progress")
	case errors.Is(err, biz.ErrNoPrimaryStore):
		return nil, kerrors.BadRequest(ReasonNoPrimaryStore, "no primary store is configured")
	default:
		return nil, kerrors.InternalServer("SYNC_FAILED", err.Error())
	}
}

// IngestRecord hands a record to the writer. The reply only means the
// record was accepted; the write itself never fails the request.
func (s *PersistenceService) IngestRecord(ctx context.Context, req *RecordRequest) (*RecordReply, error) {
	kind, err := model.ParseRecordKind(req.Kind)
	if err != nil {
		return nil, kerrors.BadRequest(ReasonUnknownKind, err.Error())
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("{}")
	}
	if !json.Valid(req.Payload) {
		return nil, kerrors.BadRequest(ReasonInvalidPayload, "payload must be valid JSON")
	}

	s.producer.Write(ctx, kind, req.Payload, req.Timestamp)
	return &RecordReply{Kind: kind.String(), Accepted: true}, nil
}
