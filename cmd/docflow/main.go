package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/docflow/cmd/docflow/cli"
	"github.com/odyssey-erp/docflow/internal/allocation"
	"github.com/odyssey-erp/docflow/internal/app"
	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/observability"
	"github.com/odyssey-erp/docflow/internal/platform/cache"
	"github.com/odyssey-erp/docflow/internal/platform/db"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/users"
	"github.com/odyssey-erp/docflow/internal/workflow"
	"github.com/odyssey-erp/docflow/jobs"
	"github.com/odyssey-erp/docflow/migrations"
)

const usage = `usage: docflow [serve | migrate | jobs trigger <task> | jobs stats]`

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN, migrations.FS)
		if err == nil {
			logger.Info("migrations applied")
		}
	case "jobs":
		err = runJobs(ctx, cfg, args[1:])
	default:
		err = errors.New(usage)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Warn("redis unavailable, allocation locks disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}

	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	userService := users.NewService(users.NewRepository(pool))
	store := documents.NewRepository(pool, logger)

	workflowService := workflow.NewService(store, userService, workflow.DefaultPolicies(), jobClient, metrics, logger)
	allocationService := allocation.NewService(store, userService, workflowService.Guard(), logger)
	allocationService.SetObserver(metrics)
	if redisClient != nil {
		allocationService.SetLocker(shared.NewLocker(redisClient, cfg.AllocationLockTTL))
	}
	workflowService.SetCancelHook(allocationService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	health := map[string]app.HealthCheck{
		"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
	}
	if redisClient != nil {
		health["redis"] = func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		WorkflowHandler:   workflow.NewHandler(logger, workflowService),
		AllocationHandler: allocation.NewHandler(logger, allocationService),
		UsersHandler:      users.NewHandler(logger, userService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Health:            health,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, cfg.IdempotencyRetention)
	defer func() {
		_ = jobsCLI.Close()
	}()

	switch {
	case len(args) == 2 && args[0] == "trigger":
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case len(args) == 1 && args[0] == "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New(usage)
	}
	return nil
}
