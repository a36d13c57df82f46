package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mfgerp/mfgerp/cmd/mfgerp/cli"
	"github.com/mfgerp/mfgerp/internal/accounting"
	"github.com/mfgerp/mfgerp/internal/app"
	"github.com/mfgerp/mfgerp/internal/audit"
	audithttp "github.com/mfgerp/mfgerp/internal/audit/http"
	"github.com/mfgerp/mfgerp/internal/observability"
	"github.com/mfgerp/mfgerp/internal/platform/cache"
	"github.com/mfgerp/mfgerp/internal/platform/db"
	"github.com/mfgerp/mfgerp/internal/shared"
	"github.com/mfgerp/mfgerp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1], os.Args[2:]))
	}
	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, name string, args []string) int {
	switch name {
	case "migrate":
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return cli.ExitError
		}
		return cli.ExitOK
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		org := fs.Int64("org", 0, "organization id (0 = all organizations)")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return cli.ExitError
		}
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return cli.ExitError
		}
		defer pool.Close()
		svc := accounting.NewService(accounting.NewRepository(pool), logger)
		return cli.ReconcileCommand(ctx, svc, cli.ReconcileOptions{OrganizationID: *org, JSONOutput: *asJSON})
	case "jobs":
		fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
		org := fs.Int64("org", 0, "organization id for reconcile (0 = all organizations)")
		if err := fs.Parse(args); err != nil {
			return cli.ExitError
		}
		ops := cli.NewJobsCLI(cfg.AsynqRedisOpt())
		defer func() {
			if err := ops.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		switch fs.Arg(0) {
		case "reconcile":
			info, err := ops.TriggerReconcile(ctx, *org)
			if err != nil {
				logger.Error("enqueue reconcile", slog.Any("error", err))
				return cli.ExitError
			}
			fmt.Printf("enqueued %s on %s\n", info.ID, info.Queue)
			return cli.ExitOK
		case "stats", "":
			stats, err := ops.InspectQueue(ctx)
			if err != nil {
				logger.Error("inspect queue", slog.Any("error", err))
				return cli.ExitError
			}
			_ = json.NewEncoder(os.Stdout).Encode(stats)
			return cli.ExitOK
		default:
			fmt.Fprintf(os.Stderr, "jobs: unknown action %q (want reconcile or stats)\n", fs.Arg(0))
			return cli.ExitError
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want migrate, reconcile or jobs)\n", name)
		return cli.ExitError
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	readiness := map[string]app.Pinger{"postgres": app.PoolPinger{Pool: dbpool}}

	// Redis backs the voucher lock, report cache and job queue. Without it the
	// API still serves: posting falls back to row locks and reports are built live.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisOptions()); err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		redisClient = client
		readiness["redis"] = app.RedisPinger{Client: client}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	accountingService := accounting.NewService(accounting.NewRepository(dbpool), logger)
	accountingService.WithMetrics(metrics)
	if redisClient != nil {
		accountingService.WithLocker(shared.NewLocker(redisClient, cfg.VoucherLockTTL))
		accountingService.WithReportCache(accounting.NewRedisReportCache(redisClient, cfg.ReportCacheTTL))
	}
	accountingHandler := accounting.NewHandler(logger, accountingService, idempotencyStore)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)))

	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := cfg.AsynqRedisOpt()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobClient, logger)
	}

	go cleanupIdempotency(ctx, idempotencyStore, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountingHandler: accountingHandler,
		AuditHandler:      auditHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
		Readiness:         readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func cleanupIdempotency(ctx context.Context, store *shared.IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Cleanup(ctx, 24*time.Hour)
			if err != nil {
				logger.Warn("idempotency cleanup", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency keys expired", slog.Int64("removed", removed))
			}
		}
	}
}
