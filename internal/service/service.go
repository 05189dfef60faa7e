// Package service exposes the persistence core over HTTP: status,
// manual sync and record ingest.
package service

import (
	"SortLedger/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewPersistenceService,
	wire.Bind(new(PersistenceUsecase), new(*biz.RecoveryUsecase)),
)
