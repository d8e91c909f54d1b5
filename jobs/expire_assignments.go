package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/driftwood-social/driftwood/internal/jobs"
)

// AssignmentSweeper removes lapsed role assignments and announces each
// removal on the invalidation bus.
type AssignmentSweeper interface {
	SweepExpiredAssignments(ctx context.Context) (int, error)
}

// ExpireAssignmentsJob runs the periodic assignment sweep.
type ExpireAssignmentsJob struct {
	Sweeper AssignmentSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewExpireAssignmentsJob initialises the sweep handler.
func NewExpireAssignmentsJob(sweeper AssignmentSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpireAssignmentsJob {
	return &ExpireAssignmentsJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ExpireAssignmentsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("expire assignments: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskRoleExpireAssignments)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	swept, err := j.Sweeper.SweepExpiredAssignments(ctx)
	if err != nil {
		resultErr = err
		j.Logger.Error("assignment sweep failed", slog.Any("error", err))
		return resultErr
	}
	j.Metrics.AddSwept(swept)
	j.Logger.Info("assignment sweep completed",
		slog.Int("swept", swept),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
