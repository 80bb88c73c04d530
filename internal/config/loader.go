package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tacticore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TACTICORE_PORT")
	setString(&cfg.Server.CORSOrigin, "TACTICORE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TACTICORE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TACTICORE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TACTICORE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TACTICORE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TACTICORE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TACTICORE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TACTICORE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "TACTICORE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TACTICORE_BREAKER_TIMEOUT")
	setDuration(&cfg.Memory.ShortTermTTL, "TACTICORE_MEM_SHORT_TERM_TTL")
	setInt64(&cfg.Memory.ShortTermSizeMB, "TACTICORE_MEM_SHORT_TERM_SIZE_MB")
	setString(&cfg.Memory.WorldStateBucket, "TACTICORE_MEM_WORLD_BUCKET")
	setDuration(&cfg.Memory.CallTimeout, "TACTICORE_MEM_CALL_TIMEOUT")
	setDuration(&cfg.Registry.HeartbeatTimeout, "TACTICORE_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Registry.SweepInterval, "TACTICORE_SWEEP_INTERVAL")
	setInt(&cfg.Registry.FailureThreshold, "TACTICORE_FAILURE_THRESHOLD")
	setDuration(&cfg.Scheduler.PollInterval, "TACTICORE_SCHED_POLL_INTERVAL")
	setDuration(&cfg.Scheduler.DispatchDeadline, "TACTICORE_SCHED_DISPATCH_DEADLINE")
	setInt(&cfg.Scheduler.RetryCeiling, "TACTICORE_SCHED_RETRY_CEILING")
	setDuration(&cfg.Scheduler.StallHorizon, "TACTICORE_SCHED_STALL_HORIZON")
	setString(&cfg.Webhook.URL, "TACTICORE_WEBHOOK_URL")
	setDuration(&cfg.Webhook.Timeout, "TACTICORE_WEBHOOK_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Scheduler.RetryCeiling < 0 {
		return errors.New("scheduler.retry_ceiling must be >= 0")
	}
	if cfg.Registry.FailureThreshold < 1 {
		return errors.New("registry.failure_threshold must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
