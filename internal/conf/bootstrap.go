// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with SORTLEDGER_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Short aliases are accepted for the connection settings:
//   - MYSQL_DSN: primary store DSN (empty means fallback-only mode)
//   - FALLBACK_PATH: SQLite file of the fallback store
//   - REDIS_ADDR: Redis address for the state mirror
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SORTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.primary.source", "MYSQL_DSN", "SORTLEDGER_DATA_PRIMARY_SOURCE")
	_ = v.BindEnv("data.fallback.path", "FALLBACK_PATH", "SORTLEDGER_DATA_FALLBACK_PATH")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "SORTLEDGER_DATA_REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Primary: &Primary{
				Driver:          v.GetString("data.primary.driver"),
				Source:          v.GetString("data.primary.source"),
				MaxOpenConns:    v.GetInt("data.primary.max_open_conns"),
				MaxIdleConns:    v.GetInt("data.primary.max_idle_conns"),
				ConnMaxLifetime: v.GetDuration("data.primary.conn_max_lifetime"),
				WriteTimeout:    v.GetDuration("data.primary.write_timeout"),
			},
			Fallback: &Fallback{
				Path:         v.GetString("data.fallback.path"),
				BusyTimeout:  v.GetDuration("data.fallback.busy_timeout"),
				WriteTimeout: v.GetDuration("data.fallback.write_timeout"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Breaker: &Breaker{
			FailureRatio:      v.GetFloat64("breaker.failure_ratio"),
			MinimumThroughput: v.GetInt("breaker.minimum_throughput"),
			SamplingDuration:  v.GetDuration("breaker.sampling_duration"),
			BreakDuration:     v.GetDuration("breaker.break_duration"),
		},
		Sync: &Sync{
			BatchSize:      v.GetInt("sync.batch_size"),
			RetryAttempts:  v.GetInt("sync.retry_attempts"),
			RetryBaseDelay: v.GetDuration("sync.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("sync.retry_max_delay"),
			RunTimeout:     v.GetDuration("sync.run_timeout"),
			RecheckSpec:    v.GetString("sync.recheck_spec"),
		},
		Writer: &Writer{
			QueueSize: v.GetInt("writer.queue_size"),
			Workers:   v.GetInt("writer.workers"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8090")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.primary.driver", "mysql")
	v.SetDefault("data.primary.max_open_conns", 50)
	v.SetDefault("data.primary.max_idle_conns", 10)
	v.SetDefault("data.primary.conn_max_lifetime", time.Hour)
	v.SetDefault("data.primary.write_timeout", 3*time.Second)

	v.SetDefault("data.fallback.path", "data/fallback.db")
	v.SetDefault("data.fallback.busy_timeout", 5*time.Second)
	v.SetDefault("data.fallback.write_timeout", 10*time.Second)

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("breaker.failure_ratio", 0.5)
	v.SetDefault("breaker.minimum_throughput", 5)
	v.SetDefault("breaker.sampling_duration", 30*time.Second)
	v.SetDefault("breaker.break_duration", 30*time.Second)

	v.SetDefault("sync.batch_size", 1000)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("sync.retry_max_delay", 5*time.Second)
	v.SetDefault("sync.run_timeout", 30*time.Minute)
	v.SetDefault("sync.recheck_spec", "0 */1 * * * *")

	v.SetDefault("writer.queue_size", 1024)
	v.SetDefault("writer.workers", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the numeric settings and required paths.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Data == nil || bc.Data.Fallback == nil || bc.Data.Fallback.Path == "" {
		invalid = append(invalid, "data.fallback.path (FALLBACK_PATH) is required")
	}
	if bc.Data != nil && bc.Data.Fallback != nil {
		f := bc.Data.Fallback
		if f.WriteTimeout < 0 || (f.WriteTimeout > 0 && f.WriteTimeout < f.BusyTimeout) {
			invalid = append(invalid, "data.fallback.write_timeout must be 0 or >= data.fallback.busy_timeout")
		}
	}
	if bc.Data != nil && bc.Data.Primary != nil && bc.Data.Primary.Source != "" &&
		bc.Data.Primary.Driver != "mysql" {
		invalid = append(invalid, fmt.Sprintf("data.primary.driver %q is not supported", bc.Data.Primary.Driver))
	}

	if b := bc.Breaker; b == nil {
		invalid = append(invalid, "breaker section is required")
	} else {
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			invalid = append(invalid, "breaker.failure_ratio must be in (0, 1]")
		}
		if b.MinimumThroughput < 1 {
			invalid = append(invalid, "breaker.minimum_throughput must be >= 1")
		}
		if b.SamplingDuration <= 0 {
			invalid = append(invalid, "breaker.sampling_duration must be positive")
		}
		if b.BreakDuration <= 0 {
			invalid = append(invalid, "breaker.break_duration must be positive")
		}
	}

	if s := bc.Sync; s == nil {
		invalid = append(invalid, "sync section is required")
	} else {
		if s.BatchSize < 1 {
			invalid = append(invalid, "sync.batch_size must be >= 1")
		}
		if s.RetryAttempts < 1 {
			invalid = append(invalid, "sync.retry_attempts must be >= 1")
		}
		if s.RetryBaseDelay < 0 {
			invalid = append(invalid, "sync.retry_base_delay must not be negative")
		}
		if s.RecheckSpec != "" {
			parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
			if _, err := parser.Parse(s.RecheckSpec); err != nil {
				invalid = append(invalid, fmt.Sprintf("sync.recheck_spec is invalid: %v", err))
			}
		}
	}

	if w := bc.Writer; w != nil && (w.QueueSize < 0 || w.Workers < 1) {
		invalid = append(invalid, "writer.queue_size must be >= 0 and writer.workers >= 1")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}
