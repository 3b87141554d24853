package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	cfg := DefaultConfig()

	// Set up viper
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Read config file (optional - if file doesn't exist, continue with defaults)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Warning: Could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else {
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	applyEnvironmentOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ScheduleEntries converts configured entries into the scheduler model
func (c *Config) ScheduleEntries() ([]model.ScheduleEntry, error) {
	entries := make([]model.ScheduleEntry, 0, len(c.Scheduler.Entries))
	for i, raw := range c.Scheduler.Entries {
		entry := model.ScheduleEntry{
			JobKind:     raw.JobKind,
			Every:       raw.Every,
			Cron:        raw.Cron,
			Target:      raw.Target,
			MaxAttempts: raw.MaxAttempts,
		}
		if raw.Payload != "" {
			if !json.Valid([]byte(raw.Payload)) {
				return nil, fmt.Errorf("scheduler.entries[%d].payload is not valid JSON", i)
			}
			entry.Payload = json.RawMessage(raw.Payload)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Database configuration
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}

	// Redis configuration
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Worker configuration
	if consumer := os.Getenv("WORKER_CONSUMER"); consumer != "" {
		cfg.Queue.Consumer = consumer
	}
	if workers := os.Getenv("WORKER_COUNT"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Queue.Workers = n
		}
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
