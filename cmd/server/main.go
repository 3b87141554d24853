// Package main provides the entry point for the tenantgate HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/M-Moiz598/tenantgate/internal/config"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/health"
	"github.com/M-Moiz598/tenantgate/internal/metrics"
	"github.com/M-Moiz598/tenantgate/internal/server"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()

	logger.Info("starting tenantgate server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
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

	// Resolver cache
	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, logger)
	defer cache.Close()

	// Tenant-scoped session pool over the shared PostgreSQL pool
	sessionPool := store.NewPostgresSessionPool(directoryStore.GetPool(), logger)
	gw := gateway.NewGateway(sessionPool, logger)

	// Services
	resolverService := service.NewResolverService(
		directoryStore,
		cache,
		cfg.Cache.PositiveTTL,
		cfg.Cache.NegativeTTL,
		m,
		logger,
	)
	directoryService := service.NewDirectoryService(directoryStore, cache, logger)
	dispatcherService := service.NewDispatcherService(
		jobQueue,
		directoryStore,
		gw,
		cfg.Queue.MaxAttempts,
		cfg.Queue.BaseBackoff,
		m,
		logger,
	)
	workspaceStore := store.NewWorkspaceStore()

	logger.Info("services initialized")

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

	healthCheck := health.NewHealthCheck(map[string]health.Pinger{
		"directory": directoryStore,
		"queue":     jobQueue,
	}, logger)
	defer healthCheck.Stop()

	httpServer := server.NewServer(cfg, server.Deps{
		Resolver:   resolverService,
		Directory:  directoryService,
		Dispatcher: dispatcherService,
		Gateway:    gw,
		Workspace:  workspaceStore,
		Health:     healthCheck,
	}, logger)
	httpServer.SetupRoutes()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("HTTP server started", zap.Int("port", cfg.Server.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	logger.Info("tenantgate server shutdown complete")
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
