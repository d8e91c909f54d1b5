package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/driftwood-social/driftwood/internal/app"
	"github.com/driftwood-social/driftwood/internal/bus"
	"github.com/driftwood-social/driftwood/internal/id"
	jobmetrics "github.com/driftwood-social/driftwood/internal/jobs"
	"github.com/driftwood-social/driftwood/internal/meta"
	"github.com/driftwood-social/driftwood/internal/modlog"
	"github.com/driftwood-social/driftwood/internal/platform/cache"
	"github.com/driftwood-social/driftwood/internal/platform/db"
	"github.com/driftwood-social/driftwood/internal/roles"
	"github.com/driftwood-social/driftwood/internal/timeline"
	"github.com/driftwood-social/driftwood/internal/users"
	"github.com/driftwood-social/driftwood/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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
	eventBus := bus.New(redisClient, cfg.EventChannel, logger)
	fanout := timeline.NewFanout(redisClient)

	roleService := roles.NewService(logger, roles.NewRepository(pool),
		users.NewRepository(pool), meta.NewService(pool, cfg.MetaCacheTTL),
		eventBus, fanout, modlog.NewService(pool, gen, logger), gen, roles.Config{
			RolesTTL:        cfg.RolesCacheTTL,
			AssignmentsTTL:  cfg.AssignmentsCacheTTL,
			RoleTimelineMax: cfg.RoleTimelineMax,
		})

	timelineService := timeline.NewService(logger, fanout, timeline.Limits{
		Home:     cfg.HomeTimelineMax,
		User:     cfg.UserTimelineMax,
		UserList: cfg.ListTimelineMax,
	})

	eventBus.Subscribe(ctx, roleService.HandleEvent)

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewExpireAssignmentsJob(roleService, logger, metrics)
	fanoutJob := jobs.NewNoteFanoutJob(timelineService, roleService, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRoleExpireAssignments, Handler: sweepJob.Handle},
			{Type: jobs.TaskNoteFanout, Handler: fanoutJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/10 * * * *", Task: jobs.NewExpireAssignmentsTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
