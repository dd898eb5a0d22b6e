package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Retry      RetryConfig      `yaml:"retry"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MonitorConfig holds the slot monitor configuration.
type MonitorConfig struct {
	Enabled                  bool          `yaml:"enabled"`
	GraceMinutes             int           `yaml:"grace_minutes"`
	Grace                    time.Duration `yaml:"-"`
	ReconcileIntervalSeconds int           `yaml:"reconcile_interval_seconds"`
	ReconcileInterval        time.Duration `yaml:"-"`
	ReservationTTLMinutes    int           `yaml:"reservation_ttl_minutes"`
	ReservationTTL           time.Duration `yaml:"-"`
	Timezone                 string        `yaml:"timezone"`
}

// RetryConfig bounds the optimistic-concurrency retry loop of the store.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoffMs int           `yaml:"initial_backoff_ms"`
	InitialBackoff   time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Monitor.GraceMinutes <= 0 {
		cfg.Monitor.GraceMinutes = 30
	}
	cfg.Monitor.Grace = time.Duration(cfg.Monitor.GraceMinutes) * time.Minute

	if cfg.Monitor.ReconcileIntervalSeconds <= 0 {
		cfg.Monitor.ReconcileIntervalSeconds = 300
	}
	cfg.Monitor.ReconcileInterval = time.Duration(cfg.Monitor.ReconcileIntervalSeconds) * time.Second

	if cfg.Monitor.ReservationTTLMinutes <= 0 {
		cfg.Monitor.ReservationTTLMinutes = 24 * 60
	}
	cfg.Monitor.ReservationTTL = time.Duration(cfg.Monitor.ReservationTTLMinutes) * time.Minute

	if cfg.Monitor.Timezone == "" {
		cfg.Monitor.Timezone = "UTC"
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoffMs <= 0 {
		cfg.Retry.InitialBackoffMs = 100
	}
	cfg.Retry.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
