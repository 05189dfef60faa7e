package server

import (
	"context"

	"SortLedger/internal/service"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names, reported by the logging middleware.
const (
	OperationHealth       = "/sortledger.Persistence/Health"
	OperationStatus       = "/sortledger.Persistence/Status"
	OperationTriggerSync  = "/sortledger.Persistence/TriggerSync"
	OperationIngestRecord = "/sortledger.Persistence/IngestRecord"
)

// RegisterPersistenceHTTPServer mounts the persistence routes on s.
func RegisterPersistenceHTTPServer(s *http.Server, srv *service.PersistenceService) {
	r := s.Route("/")
	r.GET("/healthz", healthHandler(srv))
	r.GET("/v1/persistence/status", statusHandler(srv))
	r.POST("/v1/persistence/sync", triggerSyncHandler(srv))
	r.POST("/v1/records/{kind}", ingestRecordHandler(srv))
}

func healthHandler(srv *service.PersistenceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationHealth)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Health(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func statusHandler(srv *service.PersistenceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationStatus)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Status(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func triggerSyncHandler(srv *service.PersistenceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationTriggerSync)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.TriggerSync(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func ingestRecordHandler(srv *service.PersistenceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in service.RecordRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.Kind = ctx.Vars().Get("kind")
		http.SetOperation(ctx, OperationIngestRecord)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.IngestRecord(ctx, req.(*service.RecordRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
