// Package main is the entry point of the SortLedger service.
// It wires the durable-write core behind a Kratos HTTP server.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"SortLedger/internal/biz"
	"SortLedger/internal/conf"
	zapLogger "SortLedger/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "SortLedger"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

// drainTimeout bounds how long shutdown waits for queued records.
const drainTimeout = 10 * time.Second

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, recheck *cron.Cron, writer *biz.AsyncWriter) *kratos.App {
	helper := zapLogger.NewLogHelper(logger)

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
		),
		kratos.AfterStart(func(context.Context) error {
			recheck.Start()
			helper.Startup("SortLedger service started")
			return nil
		}),
		kratos.BeforeStop(func(context.Context) error {
			<-recheck.Stop().Done()
			return nil
		}),
		kratos.AfterStop(func(context.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			return writer.Close(ctx)
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup("SortLedger service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"fallback.path", bc.Data.Fallback.Path,
		"primary.configured", bc.Data.Primary.Source != "",
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Breaker, bc.Sync, bc.Writer, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
