package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/driftwood-social/driftwood/internal/jobs"
	"github.com/driftwood-social/driftwood/internal/timeline"
)

// RoleTimelineWriter pushes a note into the role timelines of its author.
type RoleTimelineWriter interface {
	AddNoteToRoleTimeline(ctx context.Context, note *timeline.Note)
}

// NoteFanoutJob distributes a note into its timeline buckets off the
// request path.
type NoteFanoutJob struct {
	Timelines     *timeline.Service
	RoleTimelines RoleTimelineWriter
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// NewNoteFanoutJob initialises the fanout handler.
func NewNoteFanoutJob(timelines *timeline.Service, roleTimelines RoleTimelineWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *NoteFanoutJob {
	return &NoteFanoutJob{Timelines: timelines, RoleTimelines: roleTimelines, Logger: logger, Metrics: metrics}
}

// Handle executes one fanout. A malformed payload is dropped, not retried.
func (j *NoteFanoutJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Timelines == nil {
		return errors.New("note fanout: handler not configured")
	}
	var payload NoteFanoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Note == nil || payload.Note.ID == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskNoteFanout)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Timelines.FanoutNote(ctx, timeline.FanoutRequest{
		Note:        payload.Note,
		FollowerIDs: payload.FollowerIDs,
		ListIDs:     payload.ListIDs,
		AntennaIDs:  payload.AntennaIDs,
	}); err != nil {
		resultErr = err
		j.Logger.Error("note fanout failed", slog.String("noteId", payload.Note.ID), slog.Any("error", err))
		return resultErr
	}
	if j.RoleTimelines != nil {
		j.RoleTimelines.AddNoteToRoleTimeline(ctx, payload.Note)
	}
	return nil
}
