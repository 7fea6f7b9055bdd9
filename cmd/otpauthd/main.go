package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/sync/errgroup"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/goliatone/go-auth-otp/activitymap"
	"github.com/goliatone/go-auth-otp/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "otpauthd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer zl.Sync() //nolint:errcheck
	logger := zapLogger{log: zl.Sugar()}

	if cfg.Debug {
		logger.Debug("configuration", "config", print.MaybePrettyJSON(cfg.Redacted()))
	}

	db, err := openDB(ctx, cfg.StorageURI)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := otpauth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("repository: %w", err)
	}

	pending, closePending, err := newPendingStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePending()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := activitymap.NewMetricsSink(registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	tokens := otpauth.NewTokenService(
		[]byte(cfg.GetSigningKey()),
		otpauth.WithTokenIssuer(cfg.GetIssuer()),
		otpauth.WithTokenTTL(cfg.GetTokenTTL()),
		otpauth.WithTokenLogger(logger),
	)

	registrar := otpauth.NewRegistrar(repo.Identities(), pending, tokens,
		otpauth.WithRegistrarConfig(cfg),
		otpauth.WithRegistrarHasher(otpauth.NewBcryptHasher(cfg.BcryptCost)),
		otpauth.WithRegistrarNotifier(notifier),
		otpauth.WithRegistrarLimiter(otpauth.NewVerifyLimiter(cfg.VerifyBurst, cfg.VerifyRefill)),
		otpauth.WithRegistrarLogger(logger),
		otpauth.WithRegistrarActivitySink(otpauth.MultiActivitySink{
			metrics,
			activitymap.NewLogSink(logger),
		}),
	)

	controller := otpauth.NewController(registrar, repo, tokens,
		otpauth.WithControllerConfig(cfg),
		otpauth.WithControllerLogger(logger),
	)

	srv := otpauth.NewHTTPServer(controller,
		otpauth.WithServerName("otpauthd"),
		otpauth.WithRequestLog(cfg.Debug),
	)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Addr())
		if err := srv.Serve(cfg.Addr()); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return registrar.RunJanitor(ctx, cfg.SweepInterval)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{srv.Shutdown(shutdownCtx)}
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func openDB(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// sqlite allows one writer
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := otpauth.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newPendingStore(ctx context.Context, cfg config.Config, logger otpauth.Logger) (otpauth.PendingStore, func(), error) {
	if cfg.RedisURL == "" {
		return otpauth.NewMemoryPendingStore(otpauth.WithPendingLogger(logger)), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("pending store", "backend", "redis", "addr", opts.Addr)
	store := otpauth.NewRedisPendingStore(client, otpauth.WithRedisKeyPrefix(cfg.RedisPrefix))
	return store, func() { client.Close() }, nil
}

func newNotifier(cfg config.Config, logger otpauth.Logger) (otpauth.Notifier, error) {
	smtpCfg, ok := cfg.SMTPConfig()
	if !ok {
		logger.Warn("SMTP_HOST not set, codes are written to the log")
		return otpauth.NewLogNotifier(logger), nil
	}

	n, err := otpauth.NewSMTPNotifier(smtpCfg)
	if err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}
	return n, nil
}
