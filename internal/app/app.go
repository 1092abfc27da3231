// Package app wires configuration, infrastructure, and domain handlers into
// the two runnable modes: the admission-service HTTP API and the scheduler
// worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/cgirish01/hypervisor-service/internal/api/cluster"
	"github.com/cgirish01/hypervisor-service/internal/api/deployment"
	"github.com/cgirish01/hypervisor-service/internal/api/organization"
	"github.com/cgirish01/hypervisor-service/internal/audit"
	"github.com/cgirish01/hypervisor-service/internal/config"
	"github.com/cgirish01/hypervisor-service/internal/events"
	"github.com/cgirish01/hypervisor-service/internal/httpserver"
	"github.com/cgirish01/hypervisor-service/internal/platform"
	"github.com/cgirish01/hypervisor-service/internal/scheduler"
	"github.com/cgirish01/hypervisor-service/internal/telemetry"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting hypervisor-service",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "hypervisor-service", "0.1.0")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	} else {
		logger.Info("redis disabled (REDIS_URL not set) — deployment event stream unavailable")
	}

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	publisher := events.NewPublisher(rdb, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	orgHandler := organization.NewHandler(organization.NewStore(db), auditWriter)
	srv.APIRouter.Mount("/organizations", orgHandler.Routes())

	clusterHandler := cluster.NewHandler(cluster.NewStore(db), db, auditWriter)
	srv.APIRouter.Mount("/clusters", clusterHandler.Routes())

	deploymentHandler := deployment.NewHandler(deployment.NewStore(db), db, auditWriter, publisher)
	srv.APIRouter.Mount("/deployments", deploymentHandler.Routes())

	auditHandler := audit.NewHandler(logger, db)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) error {
	if cfg.Testing {
		logger.Info("worker disabled (TESTING=true)")
		<-ctx.Done()
		return nil
	}

	publisher := events.NewPublisher(rdb, logger)
	interval := time.Duration(cfg.SchedulerInterval()) * time.Second

	worker := scheduler.NewWorker(pool, publisher, logger, interval)
	logger.Info("worker started", "tick_interval", interval)
	worker.Run(ctx)
	return nil
}
