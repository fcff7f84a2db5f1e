package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	syncapp "github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/cache"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/ecommerce"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
	"github.com/erp/catalogsync/internal/infrastructure/scheduler"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
	"github.com/erp/catalogsync/internal/interfaces/http/handler"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
	"github.com/erp/catalogsync/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Catalog Sync API
//	@version		1.0
//	@description	Batch import of an e-commerce catalog into the local store
//	@BasePath		/api/v1

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()

	// Bootstrap logger; replaced once the OTLP log bridge is up
	bootLog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, logProvider.NewZapCore(zapcore.InfoLevel))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting catalog sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        cfg.Database.Driver,
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	// Postgres schemas are owned by cmd/migrate; sqlite is for local runs only
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	// Upstream catalog API
	controller, err := syncapp.NewController(cfg.Sync.Workers, cfg.Sync.ItemTimeout)
	if err != nil {
		log.Fatal("Invalid worker configuration", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter(telemetry.TracerName), controller.InFlight)
	if err != nil {
		log.Fatal("Failed to register sync metrics", zap.Error(err))
	}
	defer func() { _ = syncMetrics.Close() }()

	clientCfg := ecommerce.NewCatalogClientConfig(cfg.Upstream.BaseURL)
	clientCfg.APIKey = cfg.Upstream.APIKey
	clientCfg.Timeout = cfg.Upstream.Timeout
	clientCfg.RequestsPerSec = cfg.Upstream.RequestsPerSec
	clientCfg.Burst = cfg.Upstream.Burst
	clientCfg.MaxRetries = cfg.Upstream.MaxRetries
	clientCfg.RetryDelay = cfg.Upstream.RetryDelay
	clientCfg.MaxRetryDelay = cfg.Upstream.MaxRetryDelay
	clientCfg.PageSize = cfg.Upstream.PageSize
	clientCfg.MaxResponseSize = cfg.Upstream.MaxResponseSize
	client, err := ecommerce.NewCatalogClient(clientCfg,
		ecommerce.WithLogger(log),
		ecommerce.WithRequestObserver(syncMetrics.ObserveRequest),
	)
	if err != nil {
		log.Fatal("Failed to create catalog client", zap.Error(err))
	}

	// Job store
	jobStore, err := cache.NewJobStoreFactory(cfg.Redis, cfg.Sync.JobRetention, cache.WithLogger(log)).
		CreateStore(cfg.Sync.JobStore)
	if err != nil {
		log.Fatal("Failed to create job store", zap.Error(err))
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			log.Error("Error closing job store", zap.Error(err))
		}
	}()

	tracker := syncapp.NewTracker(jobStore, cfg.Sync.MaxRecentErrors, log)
	orchestrator := syncapp.NewOrchestrator(
		ecommerce.NewCatalogPaginator(client),
		syncapp.NewNormalizer(),
		persistence.NewGormCatalogWriter(db.DB),
		persistence.NewParentResolver(db.DB),
		controller,
		tracker,
		syncapp.OrchestratorConfig{
			ChunkSize:        cfg.Sync.ChunkSize,
			FailureThreshold: cfg.Sync.FailureThreshold,
		},
		syncapp.WithMetrics(syncMetrics),
		syncapp.WithOrchestratorLogger(log),
	)
	syncService := syncapp.NewService(orchestrator, tracker, persistence.NewGormCatalogStats(db.DB), log)

	// Periodic cascades
	var trigger *scheduler.CronTrigger
	var cascadeScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		tenants, err := scheduler.NewStaticTenantProvider(cfg.Scheduler.TenantIDs)
		if err != nil {
			log.Fatal("Invalid scheduler tenants", zap.Error(err))
		}
		cascadeScheduler, err = scheduler.NewScheduler(scheduler.Config{
			Enabled:           true,
			MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
			JobTimeout:        cfg.Scheduler.JobTimeout,
			RetryAttempts:     cfg.Scheduler.RetryAttempts,
			RetryDelay:        cfg.Scheduler.RetryDelay,
		}, syncService, log)
		if err != nil {
			log.Fatal("Failed to create scheduler", zap.Error(err))
		}
		if err := cascadeScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		trigger = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			Interval: cfg.Scheduler.Interval,
		}, cascadeScheduler, tenants, log)
		if err := trigger.Start(ctx); err != nil {
			log.Fatal("Failed to start cascade trigger", zap.Error(err))
		}
	}

	// HTTP
	defaultTenant, err := uuid.Parse(cfg.Sync.DefaultTenantID)
	if err != nil {
		log.Fatal("Invalid default tenant id", zap.Error(err))
	}
	cors := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	ginMode := gin.DebugMode
	if cfg.App.Env == "production" {
		ginMode = gin.ReleaseMode
	}
	engine := router.NewEngine(router.EngineConfig{
		Mode:        ginMode,
		ServiceName: cfg.Telemetry.ServiceName,
		Tracing:     cfg.Telemetry.Enabled,
		MaxBodySize: cfg.HTTP.MaxBodySize,
		CORS:        cors,
		Logger:      log,
	})
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	health := handler.NewHealthHandler(version, map[string]handler.Pinger{"database": db})
	engine.GET("/health", health.Live)
	engine.GET("/ready", health.Ready)

	router.NewRouter(engine,
		router.WithAPIMiddleware(
			middleware.Tenant(middleware.TenantConfig{DefaultTenantID: defaultTenant}),
			middleware.SpanAttributes(),
		),
	).
		Register(handler.NewSyncHandler(syncService)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if trigger != nil {
		if err := trigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping cascade trigger", zap.Error(err))
		}
	}
	if cascadeScheduler != nil {
		if err := cascadeScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}
	// cancels in-flight jobs and waits for their terminal state to be recorded
	if err := syncService.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping sync jobs", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	_ = logger.Sync(log)
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("Error shutting down log provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
