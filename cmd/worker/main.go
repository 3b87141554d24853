// Package main provides the entry point for the tenantgate job worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/M-Moiz598/tenantgate/internal/config"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/health"
	"github.com/M-Moiz598/tenantgate/internal/jobs"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"github.com/M-Moiz598/tenantgate/internal/util/workerpool"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()

	logger.Info("starting tenantgate worker")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("consumer", cfg.Queue.Consumer),
		zap.Int("workers", cfg.Queue.Workers),
		zap.String("database_host", cfg.Database.Host),
		zap.String("redis_host", cfg.Redis.Host),
	)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Partition directory (PostgreSQL)
	directoryStore, err := store.NewPostgresDirectoryStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("failed to initialize directory store", zap.Error(err))
	}
	defer directoryStore.Close()

	// Job queue (Redis streams)
	jobQueue, err := store.NewRedisJobQueue(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Stream,
		cfg.Queue.Group,
		logger,
	)
	if err != nil {
		logger.Fatal("failed to initialize job queue", zap.Error(err))
	}
	defer jobQueue.Close()

	// Tenant-scoped session pool over the shared PostgreSQL pool
	sessionPool := store.NewPostgresSessionPool(directoryStore.GetPool(), logger)
	gw := gateway.NewGateway(sessionPool, logger)

	dispatcher := service.NewDispatcherService(
		jobQueue,
		directoryStore,
		gw,
		cfg.Queue.MaxAttempts,
		cfg.Queue.BaseBackoff,
		m,
		logger,
	)

	// Job handlers
	workspaceStore := store.NewWorkspaceStore()
	mailer := service.NewLogMailer(logger)
	jobHandlers := jobs.NewHandlers(workspaceStore, mailer, dispatcher, logger)
	jobHandlers.RegisterAll(dispatcher)

	logger.Info("job handlers registered")

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// Health check server
	healthCheck := health.NewHealthCheck(map[string]health.Pinger{
		"directory": directoryStore,
		"queue":     jobQueue,
	}, logger)
	defer healthCheck.Stop()
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", healthCheck.LivenessHandler)
		mux.HandleFunc("/ready", healthCheck.ReadinessHandler)
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("starting health check server", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("health check server failed", zap.Error(err))
		}
	}()

	// Worker pool for job execution
	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "jobs",
		MaxWorkers: cfg.Queue.Workers,
		QueueSize:  cfg.Queue.Workers * 2,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go dispatcher.Run(ctx, cfg.Queue.Consumer, pool, cfg.Queue.ClaimBlock, cfg.Queue.MoveInterval)

	// Periodic driver for recurring jobs
	var scheduler *service.SchedulerService
	if cfg.Scheduler.Enabled {
		entries, err := cfg.ScheduleEntries()
		if err != nil {
			logger.Fatal("invalid schedule entries", zap.Error(err))
		}

		scheduler, err = service.NewSchedulerService(
			entries,
			directoryStore,
			dispatcher,
			clock.New(),
			cfg.Scheduler.TickInterval,
			m,
			logger,
		)
		if err != nil {
			logger.Fatal("failed to initialize scheduler", zap.Error(err))
		}

		scheduler.Start(ctx)
		logger.Info("scheduler started",
			zap.Int("entries", len(entries)),
			zap.Duration("tick_interval", cfg.Scheduler.TickInterval),
		)
	}

	logger.Info("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("initiating graceful shutdown")
	cancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	dispatcher.Stop()
	pool.Stop(cfg.Server.ShutdownTimeout)

	logger.Info("tenantgate worker shutdown complete")
}

// initLogger initializes the zap logger.
func initLogger() *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var level zapcore.Level
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
