package main

import (
	"context"
	"fmt"
	"time"

	"SortLedger/internal/biz"
	"SortLedger/internal/conf"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// recheckTimeout bounds a single recheck, including a sync run it starts.
const recheckTimeout = 30 * time.Minute

// newRecheckCron schedules RecoveryUsecase.Recheck. It probes the primary
// store while the breaker is not Closed and drains leftover fallback
// records while it is. The scheduler is started by the app.
//
// Default spec: 0 */1 * * * * (sec min hour dom month dow), once a minute.
func newRecheckCron(uc *biz.RecoveryUsecase, c *conf.Sync, logger log.Logger) (*cron.Cron, error) {
	helper := pkglog.NewLogHelper(logger)

	timeout := recheckTimeout
	if c.RunTimeout > 0 {
		timeout = c.RunTimeout
	}

	sched := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := sched.AddFunc(c.RecheckSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		uc.Recheck(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sync.recheck_spec %q: %w", c.RecheckSpec, err)
	}

	helper.Scheduler("recheck job registered", "spec", c.RecheckSpec)
	return sched, nil
}
