package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"pdv-haver/internal/clients"
	"pdv-haver/internal/config"
	"pdv-haver/internal/repository"
	"pdv-haver/internal/service"
	"pdv-haver/internal/transport/rest"
	"pdv-haver/internal/transport/websocket"
	"pdv-haver/pkg/database/postgres"
	"pdv-haver/pkg/database/sqlite"
	"pdv-haver/pkg/logger"
)

func main() {
	envErr := godotenv.Load()

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	log := logger.New(logger.ForEnvironment(cfg.Env, cfg.LogLevel))
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Info("no .env file found, using system env or defaults")
	}

	db, dialect := mustInitDB(ctx, cfg, log)
	defer func() { _ = db.Close() }()

	store := repository.NewStore(db, dialect)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal("schema init error", zap.Error(err))
	}

	policy, err := service.ParseOverpaymentPolicy(cfg.Settlement.OverpaymentPolicy)
	if err != nil {
		log.Fatal("invalid settlement config", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	var (
		redisClient *clients.RedisClient
		idempotency service.IdempotencyStore
		statusStore service.ExportStatusStore
		lockOpts    []service.SettlementOption
		health      = []rest.Pinger{store}
	)
	if cfg.Redis.Enabled {
		redisClient = mustInitRedis(ctx, cfg.Redis, log)
		defer redisClient.Close()

		idempotency = service.NewRedisIdempotencyStore(redisClient, cfg.Settlement.IdempotencyTTL)
		statusStore = redisClient
		lockOpts = append(lockOpts, service.WithDistributedLock(service.NewRedisLocker(redisClient, cfg.Settlement.LockTTL, log)))
		health = append(health, redisClient)
	} else {
		mem := service.NewInMemoryIdempotencyStore(cfg.Settlement.IdempotencyTTL)
		defer mem.Close()
		idempotency = mem
		statusStore = service.NewMemoryStatusStore()
		log.Info("redis disabled, using in-process locks, idempotency and export status")
	}

	files, localFiles := mustInitFileStore(ctx, cfg, log)

	settleOpts := append([]service.SettlementOption{
		service.WithNotifier(wsClient),
		service.WithMetrics(metrics),
		service.WithBulkConcurrency(cfg.Settlement.BulkConcurrency),
	}, lockOpts...)

	obligationSvc := service.NewObligationService(store, wsClient, log)
	settlementSvc := service.NewSettlementService(store, policy, log, settleOpts...)
	receiptExportSvc := service.NewReceiptExportService(store.Receipts(), statusStore, files, wsClient, metrics, log)
	exportSvc := service.NewExportService(statusStore)

	deps := rest.Deps{
		Obligations: obligationSvc,
		Settlement:  settlementSvc,
		Idempotency: idempotency,
		Receipts:    receiptExportSvc,
		Exports:     exportSvc,
		Hub:         wsHub,
		FilesPrefix: cfg.FilesPublicPrefix,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Health:      health,
		Logger:      log,
	}
	if localFiles != nil {
		deps.Files = localFiles
	}
	router := rest.NewHandler(deps).InitRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With", "Idempotency-Key"},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("port", cfg.Port), zap.String("db", string(dialect)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	if localFiles != nil {
		go cleanupExports(ctx, localFiles, cfg.ExportRetention, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatal("http server error", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown error", zap.Error(err))
		}

		// stops the websocket hub and the cleaner
		cancel()

		log.Info("shutdown complete")
	}
}

func mustInitDB(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*sql.DB, repository.Dialect) {
	dialect, err := repository.ParseDialect(cfg.Database.Driver)
	if err != nil {
		log.Fatal("invalid database config", zap.Error(err))
	}

	var db *sql.DB
	switch dialect {
	case repository.Postgres:
		db, err = postgres.NewPostgresConnection(ctx, postgres.ConnectionInfo{
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			Username:     cfg.Postgres.User,
			DBName:       cfg.Postgres.DBName,
			SSLMode:      cfg.Postgres.SSLMode,
			Password:     cfg.Postgres.Password,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
		})
	default:
		db, err = sqlite.Open(ctx, cfg.Database.SQLitePath)
	}
	if err != nil {
		log.Fatal("database init error", zap.String("driver", string(dialect)), zap.Error(err))
	}
	return db, dialect
}

func mustInitRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) *clients.RedisClient {
	client, err := clients.NewRedisClient(ctx, clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatal("redis init error", zap.Error(err))
	}
	return client
}

// mustInitFileStore returns the export destination; the local client is also
// returned when files are served by this process.
func mustInitFileStore(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (service.FileStore, *clients.StorageClient) {
	if cfg.ExportStorage == "s3" {
		s3, err := clients.NewS3Client(clients.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			URLTTL:          cfg.S3.URLTTL,
		})
		if err != nil {
			log.Fatal("s3 init error", zap.Error(err))
		}
		if err := s3.EnsureBucket(ctx, cfg.S3.Region); err != nil {
			log.Fatal("s3 bucket error", zap.String("bucket", cfg.S3.Bucket), zap.Error(err))
		}
		return s3, nil
	}

	local, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		log.Fatal("storage init error", zap.Error(err))
	}
	return local, local
}

func cleanupExports(ctx context.Context, files *clients.StorageClient, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := files.CleanupOlderThan(retention)
			if err != nil {
				log.Warn("storage cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Info("old exports removed", zap.Int("count", removed))
			}
		}
	}
}
