package data

import (
	"context"
	"fmt"
	"time"

	"SortLedger/internal/conf"
	pkglog "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openPrimaryDB opens the primary MySQL store. An unreachable server is not
// an error: the pool reconnects on demand and the breaker routes writes to
// the fallback store meanwhile. A nil DB is returned when no DSN is set.
func openPrimaryDB(c *conf.Primary, l log.Logger) (*gorm.DB, error) {
	helper := log.NewHelper(l)

	if c == nil || c.Source == "" {
		helper.Warnw("msg", "primary store not configured, running in fallback-only mode")
		return nil, nil
	}

	dsnConfig, err := gomysql.ParseDSN(c.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid primary DSN: %w", err)
	}
	dsnConfig.ParseTime = true
	dsnConfig.Loc = time.UTC
	if dsnConfig.Timeout == 0 {
		dsnConfig.Timeout = 3 * time.Second
	}

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsnConfig.FormatDSN(),
		DSNConfig:                 dsnConfig,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 newGormLogger(helper),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open primary store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		helper.Warnw(
			"msg", "primary store unreachable at startup, writes will use the fallback store",
			"addr", dsnConfig.Addr,
			"error", err,
			"type", "fallback",
		)
	} else {
		helper.Infow("msg", "primary store connection established", "addr", dsnConfig.Addr, "type", "storage")
	}

	return db, nil
}

// PrimaryHealth pings the primary store for the recovery probe.
type PrimaryHealth struct {
	db *gorm.DB
}

// Ping implements biz.PrimaryProber.
func (h *PrimaryHealth) Ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// gormLogAdapter adapts Kratos log.Helper to GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements gorm/logger.Writer interface. The formatted line may
// contain a DSN, so it is masked before logging.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Warnw("msg", pkglog.MaskDSN(fmt.Sprintf(format, v...)), "type", "storage")
}

func newGormLogger(helper *log.Helper) logger.Interface {
	return logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
