// Command cafeauth-server exposes the cafeauth engine over HTTP.
//
// Configuration comes from the environment (and .env when present):
//
//	JWT_SECRET       HS256 signing key, at least 32 bytes (required)
//	REDIS_ADDR       Redis address; empty starts an embedded miniredis
//	DATABASE_DSN     PostgreSQL DSN; empty keeps principals in memory
//	NOTIFY_STREAM    Redis stream for outgoing mail; empty logs instead
//	AUDIT_ENDPOINT   S3-compatible endpoint for the audit archive
//
// With -seed-admin, a superadmin is created at startup for local demos.
//
// Run:
//
//	JWT_SECRET=$(openssl rand -hex 32) go run ./cmd/cafeauth-server \
//	  -seed-admin owner@cafe.test:roast-master-1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	minioLib "github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/brewline/cafeauth"
	"github.com/brewline/cafeauth/auditsink/minio"
	"github.com/brewline/cafeauth/internal/config"
	"github.com/brewline/cafeauth/internal/logging"
	"github.com/brewline/cafeauth/metrics/export/prometheus"
	"github.com/brewline/cafeauth/notify"
	"github.com/brewline/cafeauth/store/memory"
	"github.com/brewline/cafeauth/store/postgres"
)

func main() {
	var (
		envFile   = flag.String("env-file", ".env", "optional dotenv file")
		seedAdmin = flag.String("seed-admin", "", "create a superadmin as email:password at startup")
	)
	flag.Parse()

	if err := run(*envFile, *seedAdmin); err != nil {
		fmt.Fprintf(os.Stderr, "cafeauth-server: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile, seedAdmin string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifier cafeauth.Notifier
	if cfg.Notify.Stream != "" {
		notifier = notify.NewStreamNotifier(rdb, cfg.Notify.Stream)
		logger.Info("notifications to redis stream", "stream", cfg.Notify.Stream)
	} else {
		n := notify.NewLogNotifier(logger)
		n.RevealCodes = cfg.Notify.RevealCodes
		notifier = n
	}

	builder := cafeauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithNotifier(notifier).
		WithLogger(logger).
		WithMetricsEnabled(cfg.MetricsEnabled)

	if cfg.Audit.Endpoint != "" {
		sink, err := openAuditSink(ctx, cfg.Audit, logger)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sink.Close(flushCtx); err != nil {
				logger.Warn("audit archive flush failed", "error", err)
			}
		}()
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	if seedAdmin != "" {
		if err := seed(ctx, engine, seedAdmin, logger); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", routes(engine, logger, cfg.HTTP.TrustProxy))
	mux.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openRedis(cfg config.Redis, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.Warn("using embedded miniredis; state is lost on exit", "addr", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	logger.Info("using redis", "addr", cfg.Addr)
	return client, func() { _ = client.Close() }, nil
}

func openStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (cafeauth.CredentialStore, func(), error) {
	if cfg.DSN == "" {
		logger.Warn("using in-memory credential store; principals are lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(db), func() { _ = db.Close() }, nil
}

func openAuditSink(ctx context.Context, cfg config.Audit, logger *slog.Logger) (*minio.Sink, error) {
	client, err := minioLib.New(cfg.Endpoint, &minioLib.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("audit archive client: %w", err)
	}
	sink, err := minio.New(ctx, client, minio.Config{
		Bucket:        cfg.Bucket,
		Prefix:        cfg.Prefix,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("audit archive: %w", err)
	}
	logger.Info("archiving audit events", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return sink, nil
}

// seed creates a superadmin from "email:password". An existing account with
// that email is left alone.
func seed(ctx context.Context, engine *cafeauth.Engine, creds string, logger *slog.Logger) error {
	email, password, ok := strings.Cut(creds, ":")
	if !ok || email == "" || password == "" {
		return errors.New("-seed-admin must be email:password")
	}
	_, err := engine.CreateAdmin(ctx, email, "Demo Owner", password, cafeauth.RoleSuperAdmin)
	switch {
	case err == nil:
		logger.Info("seeded superadmin", "email", email)
	case errors.Is(err, cafeauth.ErrConflict):
		logger.Info("superadmin already present", "email", email)
	default:
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
