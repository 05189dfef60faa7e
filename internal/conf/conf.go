package conf

import "time"

// Bootstrap is the root configuration.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Breaker *Breaker
	Sync    *Sync
	Writer  *Writer
	Log     *Log
}

// Server holds the HTTP listener settings.
type Server struct {
	HTTP *HTTP
}

// HTTP configures the status/ingest HTTP server.
type HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data groups the store connections.
type Data struct {
	Primary  *Primary
	Fallback *Fallback
	Redis    *Redis
}

// Primary is the networked relational store. An empty Source runs the
// service in fallback-only mode.
type Primary struct {
	Driver          string
	Source          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// WriteTimeout bounds a single hot-path primary write.
	WriteTimeout time.Duration
}

// Fallback is the local SQLite store.
type Fallback struct {
	Path        string
	BusyTimeout time.Duration
	// WriteTimeout bounds a single hot-path fallback write. It must not be
	// shorter than BusyTimeout, or a write waiting on a sync transaction is
	// abandoned while the store is healthy. Zero means no deadline.
	WriteTimeout time.Duration
}

// Redis is used for the breaker state mirror and last sync report.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Breaker configures the primary-store circuit breaker.
type Breaker struct {
	FailureRatio      float64
	MinimumThroughput int
	SamplingDuration  time.Duration
	BreakDuration     time.Duration
}

// Sync configures recovery migration from fallback to primary.
type Sync struct {
	BatchSize      int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RunTimeout bounds one SyncAll run.
	RunTimeout time.Duration
	// RecheckSpec is a six-field cron expression for the periodic recheck.
	RecheckSpec string
}

// Writer configures the asynchronous producer front.
type Writer struct {
	QueueSize int
	Workers   int
}

// Log configures zap.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
