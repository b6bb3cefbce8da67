package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openmobilityfoundation/mds-audit-service/internal/config"
	"github.com/openmobilityfoundation/mds-audit-service/internal/dispatch"
	"github.com/openmobilityfoundation/mds-audit-service/internal/handlers"
	"github.com/openmobilityfoundation/mds-audit-service/internal/metrics"
	"github.com/openmobilityfoundation/mds-audit-service/internal/providers"
	"github.com/openmobilityfoundation/mds-audit-service/internal/queue"
	"github.com/openmobilityfoundation/mds-audit-service/internal/report"
	"github.com/openmobilityfoundation/mds-audit-service/internal/storage"
	"github.com/openmobilityfoundation/mds-audit-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting mds audit service",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port))

	collector := metrics.NewCollector()

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	reportStore := storage.NewReportStore(db, logger)
	if err := reportStore.Migrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	queueStore := storage.NewQueueStore(redisClient, cfg.Queue.SnapshotKey, logger)

	var locationSource telemetry.Source
	if cfg.Geolocation.Endpoint != "" {
		locationSource = telemetry.NewHTTPSource(cfg.Geolocation.Endpoint, cfg.Queue.TelemetryTimeout)
	}
	telemetryService := telemetry.NewService(
		locationSource,
		cfg.Geolocation.DeviceID,
		cfg.Geolocation.CacheDuration,
		logger,
	)

	auditClient := dispatch.NewClient(cfg.Audit, logger)

	eventQueue := queue.New(queue.Options{
		Config:    cfg.Queue,
		Logger:    logger,
		Handlers:  auditClient.Handlers(),
		Telemetry: telemetryService,
		Probe:     queue.NewHTTPProbe(cfg.Audit.Endpoint+"/health", cfg.Queue.OfflineCheckInterval),
		Snapshots: queueStore,
		Metrics:   collector,
		Token:     func() string { return cfg.Audit.AccessToken },
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eventQueue.Start(ctx); err != nil {
		logger.Fatal("failed to start event queue", zap.Error(err))
	}

	builder := report.NewBuilder(cfg.Thresholds, logger)
	registry := providers.NewRegistry(providerList(cfg))

	api := handlers.New(logger, builder, reportStore, eventQueue, registry, collector)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := eventQueue.Stop(shutdownCtx); err != nil {
		logger.Error("event queue shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func providerList(cfg *config.Config) []providers.Provider {
	list := make([]providers.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		list = append(list, providers.Provider{ID: p.ID, Name: p.Name})
	}
	return list
}
