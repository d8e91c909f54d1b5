package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/driftwood-social/driftwood/internal/app"
	"github.com/driftwood-social/driftwood/internal/bus"
	"github.com/driftwood-social/driftwood/internal/id"
	"github.com/driftwood-social/driftwood/internal/meta"
	"github.com/driftwood-social/driftwood/internal/modlog"
	"github.com/driftwood-social/driftwood/internal/notify"
	"github.com/driftwood-social/driftwood/internal/observability"
	"github.com/driftwood-social/driftwood/internal/platform/cache"
	"github.com/driftwood-social/driftwood/internal/platform/db"
	"github.com/driftwood-social/driftwood/internal/roles"
	"github.com/driftwood-social/driftwood/internal/timeline"
	"github.com/driftwood-social/driftwood/internal/users"
	"github.com/driftwood-social/driftwood/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	gen := id.NewGenerator()
	metrics := observability.NewMetrics()
	eventBus := bus.New(redisClient, cfg.EventChannel, logger)

	userRepo := users.NewRepository(pool)
	metaService := meta.NewService(pool, cfg.MetaCacheTTL)
	auditService := modlog.NewService(pool, gen, logger)
	fanout := timeline.NewFanout(redisClient)

	roleService := roles.NewService(logger, roles.NewRepository(pool), userRepo, metaService,
		eventBus, fanout, auditService, gen, roles.Config{
			RolesTTL:        cfg.RolesCacheTTL,
			AssignmentsTTL:  cfg.AssignmentsCacheTTL,
			RoleTimelineMax: cfg.RoleTimelineMax,
		})
	roleService.SetNotifier(notify.NewService(pool, gen, logger))

	timelineService := timeline.NewService(logger, fanout, timeline.Limits{
		Home:     cfg.HomeTimelineMax,
		User:     cfg.UserTimelineMax,
		UserList: cfg.ListTimelineMax,
	})
	timelineService.SetFanoutCounter(metrics)

	eventBus.Subscribe(ctx, func(msg bus.Message) {
		metrics.CountEvent(msg.Type)
		roleService.HandleEvent(msg)
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	timelineHandler := timeline.NewHandler(logger, timelineService)
	timelineHandler.SetEnqueuer(jobClient)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		RolesHandler:    roles.NewHandler(logger, roleService),
		TimelineHandler: timelineHandler,
		JobHandler:      jobHandler,
		AdminChecker:    roleService,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
