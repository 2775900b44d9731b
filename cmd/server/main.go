/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sales lifecycle server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Open the store (SQLite or PostgreSQL)
  3. Open the receipt store (local directory or S3)
  4. Start the notification fan-out (websocket hub, optional Redis)
  5. Build the engine, handler and router
  6. Start the overdue scheduler and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SERVER_TIMEOUT)
  3. Stop the scheduler, drain pending notifications
  4. Close the store

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/sales-engine/api"
	"github.com/warp/sales-engine/config"
	"github.com/warp/sales-engine/docstore"
	"github.com/warp/sales-engine/notify"
	"github.com/warp/sales-engine/sales"
	"github.com/warp/sales-engine/store/sqldb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using system env or defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", "driver", store.Dialect())

	// Receipts
	documents, err := openDocuments(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize receipt storage: %w", err)
	}

	// Notifications
	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	sinks := []sales.Notifier{hub}
	if cfg.Redis.Enabled {
		pub, err := notify.NewRedisPublisher(notify.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.Timeout,
			Timeout:     cfg.Redis.Timeout,
			Prefix:      cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Info("redis publisher ready", "addr", cfg.Redis.Addr)
	}
	dispatcher := notify.NewDispatcher(logger, cfg.Notify.Buffer, sinks...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go dispatcher.Run(dispatchCtx)

	// Engine
	engine := sales.NewEngine(store,
		sales.WithAuditLog(store),
		sales.WithNotifier(dispatcher),
		sales.WithDocumentStore(documents),
		sales.WithLogger(logger),
		sales.WithReceiptUpload(cfg.Receipts.UploadTimeout, cfg.Receipts.Parallelism),
	)

	handler := api.NewHandler(engine, store, logger)
	handler.MaxUploadBytes = cfg.Receipts.MaxUploadMB << 20

	if cfg.App.Demo {
		if err := handler.LoadDemo(ctx); err != nil {
			logger.Warn("failed to load demo scenarios", "error", err)
		}
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Auth:        api.NewAuthenticator(cfg.Auth.JWTSecret),
		Events:      hub,
		CORSOrigins: cfg.App.CORSOrigins,
		Demo:        cfg.App.Demo,
	})
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, accepting X-Actor-ID headers")
	}

	scheduler := api.NewOverdueScheduler(engine.Ledger, logger)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.Timeout,
		WriteTimeout: cfg.App.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "name", cfg.App.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.Timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	scheduler.Stop()
	stopDispatch()
	<-dispatcher.Done()

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sqldb.Store, error) {
	if cfg.DB.Driver == "postgres" {
		return sqldb.OpenPostgres(ctx, cfg.ConnectionString())
	}
	if cfg.DB.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
			return nil, err
		}
	}
	return sqldb.OpenSQLite(cfg.DB.Path)
}

func openDocuments(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sales.DocumentStore, error) {
	if cfg.Storage.Driver == "s3" {
		s3, err := docstore.NewS3(ctx, docstore.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKey,
			SecretAccessKey: cfg.Storage.SecretKey,
			Bucket:          cfg.Storage.Bucket,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
			Prefix:          cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("receipt storage ready", "driver", "s3", "bucket", cfg.Storage.Bucket)
		return s3, nil
	}

	local, err := docstore.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		return nil, err
	}
	if err := local.CleanupOlderThan(time.Hour); err != nil {
		logger.Warn("failed to clean up partial receipt uploads", "error", err)
	}
	logger.Info("receipt storage ready", "driver", "local", "dir", local.BaseDir)
	return local, nil
}
