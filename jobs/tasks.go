package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/driftwood-social/driftwood/internal/timeline"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleExpireAssignments sweeps lapsed role assignments.
	TaskRoleExpireAssignments = "role:expireAssignments"
	// TaskNoteFanout distributes one note into its timeline buckets.
	TaskNoteFanout = "timeline:fanout"
)

// NewExpireAssignmentsTask constructs the sweep task. The payload is empty;
// the handler always sweeps everything lapsed at execution time.
func NewExpireAssignmentsTask() *asynq.Task {
	return asynq.NewTask(TaskRoleExpireAssignments, nil)
}

// NoteFanoutPayload carries one note and its resolved audiences.
type NoteFanoutPayload struct {
	Note        *timeline.Note `json:"note"`
	FollowerIDs []string       `json:"followerIds"`
	ListIDs     []string       `json:"listIds"`
	AntennaIDs  []string       `json:"antennaIds"`
}

// NewNoteFanoutTask constructs a fanout task.
func NewNoteFanoutTask(payload NoteFanoutPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNoteFanout, data), nil
}
