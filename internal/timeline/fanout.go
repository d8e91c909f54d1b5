package timeline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tl:"

// Bucket key builders. A bucket is a plain string-keyed namespace; no
// transactionality exists across buckets beyond a shared pipeline.
func HomeTimeline(userID string) string          { return "homeTimeline:" + userID }
func HomeTimelineWithFiles(userID string) string { return "homeTimelineWithFiles:" + userID }
func UserTimeline(userID string) string          { return "userTimeline:" + userID }
func UserTimelineWithFiles(userID string) string { return "userTimelineWithFiles:" + userID }
func UserTimelineWithReplies(userID string) string {
	return "userTimelineWithReplies:" + userID
}
func UserTimelineWithChannel(userID string) string {
	return "userTimelineWithChannel:" + userID
}
func UserListTimeline(listID string) string { return "userListTimeline:" + listID }
func UserListTimelineWithFiles(listID string) string {
	return "userListTimelineWithFiles:" + listID
}
func AntennaTimeline(antennaID string) string { return "antennaTimeline:" + antennaID }
func RoleTimeline(roleID string) string       { return "roleTimeline:" + roleID }

// DimensionTimeline is the per-dimension partition of the shared timeline.
func DimensionTimeline(dimension int) string {
	return fmt.Sprintf("dimensionTimeline:%d", dimension)
}

// Fanout is the append-only per-bucket ordered-ID store, backed by Redis
// lists trimmed to capacity.
type Fanout struct {
	client *redis.Client
}

// NewFanout constructs a Fanout store.
func NewFanout(client *redis.Client) *Fanout {
	return &Fanout{client: client}
}

// Pipeline returns a pipeline for batching one note's fanout into many
// buckets with a single round trip.
func (f *Fanout) Pipeline() redis.Pipeliner {
	return f.client.Pipeline()
}

// Push inserts itemID at the head of the bucket, trimming the tail beyond
// maxLen. Duplicate IDs are tolerated; this layer enforces no set
// semantics. When pipe is non-nil the commands are queued on it and the
// caller executes the pipeline.
func (f *Fanout) Push(ctx context.Context, bucket, itemID string, maxLen int, pipe redis.Pipeliner) error {
	key := keyPrefix + bucket
	if pipe != nil {
		pipe.LPush(ctx, key, itemID)
		pipe.LTrim(ctx, key, 0, int64(maxLen)-1)
		return nil
	}
	_, err := f.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, itemID)
		p.LTrim(ctx, key, 0, int64(maxLen)-1)
		return nil
	})
	return err
}

// Range reads up to limit IDs from the head of the bucket, newest first.
// limit <= 0 reads the whole bucket.
func (f *Fanout) Range(ctx context.Context, bucket string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	return f.client.LRange(ctx, keyPrefix+bucket, 0, stop).Result()
}

// Purge deletes the bucket's contents entirely.
func (f *Fanout) Purge(ctx context.Context, bucket string) error {
	return f.client.Del(ctx, keyPrefix+bucket).Err()
}
