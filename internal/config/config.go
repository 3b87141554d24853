package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the tenantgate service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents the PostgreSQL directory and partition storage
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig represents the Redis job queue configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig represents resolver cache configuration
type CacheConfig struct {
	PositiveTTL time.Duration `mapstructure:"positive_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
	MaxSize     int           `mapstructure:"max_size"`
}

// QueueConfig represents dispatcher and worker configuration
type QueueConfig struct {
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	Workers      int           `mapstructure:"workers"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	ClaimBlock   time.Duration `mapstructure:"claim_block"`
	MoveInterval time.Duration `mapstructure:"move_interval"`
}

// ScheduleEntryConfig represents one recurring job
type ScheduleEntryConfig struct {
	JobKind     string        `mapstructure:"job_kind"`
	Every       time.Duration `mapstructure:"every"`
	Cron        string        `mapstructure:"cron"`
	Target      string        `mapstructure:"target"`
	Payload     string        `mapstructure:"payload"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// SchedulerConfig represents the periodic driver configuration
type SchedulerConfig struct {
	Enabled      bool                  `mapstructure:"enabled"`
	TickInterval time.Duration         `mapstructure:"tick_interval"`
	Entries      []ScheduleEntryConfig `mapstructure:"entries"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Queue.Stream == "" {
		return errors.New("queue.stream is required")
	}
	if c.Queue.Group == "" {
		return errors.New("queue.group is required")
	}
	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be positive")
	}
	for i, entry := range c.Scheduler.Entries {
		if entry.JobKind == "" {
			return fmt.Errorf("scheduler.entries[%d].job_kind is required", i)
		}
		if entry.Cron == "" && entry.Every <= 0 {
			return fmt.Errorf("scheduler.entries[%d] needs either cron or every", i)
		}
		if entry.Target == "" {
			return fmt.Errorf("scheduler.entries[%d].target is required", i)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       100,
			RateBurst:       200,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "tenantgate",
			User:           "tenantgate",
			Password:       "",
			MaxConnections: 50,
			MinConnections: 10,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		Cache: CacheConfig{
			PositiveTTL: 5 * time.Minute,
			NegativeTTL: 10 * time.Second,
			MaxSize:     10000,
		},
		Queue: QueueConfig{
			Stream:       "jobs:ready",
			Group:        "workers",
			Consumer:     "worker-1",
			Workers:      4,
			MaxAttempts:  5,
			BaseBackoff:  time.Second,
			ClaimBlock:   5 * time.Second,
			MoveInterval: time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: time.Second,
			Entries: []ScheduleEntryConfig{
				{JobKind: "check_overdue", Cron: "0 * * * *", Target: "all"},
				{JobKind: "cleanup_old_data", Cron: "30 2 * * *", Target: "all"},
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
