package timeline

import (
	"context"
	"log/slog"
)

// Limits caps each timeline family's bucket length.
type Limits struct {
	Home     int
	User     int
	UserList int
	Antenna  int
}

// FanoutRequest carries one note and the audiences it reaches. The caller
// resolves followers, list memberships and antenna hits; this service only
// distributes.
type FanoutRequest struct {
	Note        *Note    `json:"note"`
	FollowerIDs []string `json:"followerIds"`
	ListIDs     []string `json:"listIds"`
	AntennaIDs  []string `json:"antennaIds"`
}

// FanoutCounter counts pushes per bucket family.
type FanoutCounter interface {
	CountFanout(family string)
}

// Service distributes notes into timeline buckets and serves reads.
type Service struct {
	logger  *slog.Logger
	fanout  *Fanout
	limits  Limits
	counter FanoutCounter
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, fanout *Fanout, limits Limits) *Service {
	if limits.Home <= 0 {
		limits.Home = 800
	}
	if limits.User <= 0 {
		limits.User = 800
	}
	if limits.UserList <= 0 {
		limits.UserList = 800
	}
	if limits.Antenna <= 0 {
		limits.Antenna = 200
	}
	return &Service{logger: logger, fanout: fanout, limits: limits}
}

// SetFanoutCounter wires push metrics in. Optional; nil stays silent.
func (s *Service) SetFanoutCounter(c FanoutCounter) {
	s.counter = c
}

func (s *Service) count(family string) {
	if s.counter != nil {
		s.counter.CountFanout(family)
	}
}

// FanoutNote pushes one note into every bucket its audiences read: the
// author's own timeline, each follower's home timeline, subscribed lists
// and matching antennas, plus the per-dimension partitions the note's
// dimension rules select. All pushes share one pipeline.
func (s *Service) FanoutNote(ctx context.Context, req FanoutRequest) error {
	note := req.Note
	if note == nil {
		return nil
	}

	pipe := s.fanout.Pipeline()

	_ = s.fanout.Push(ctx, UserTimeline(note.UserID), note.ID, s.limits.User, pipe)
	_ = s.fanout.Push(ctx, UserTimelineWithReplies(note.UserID), note.ID, s.limits.User, pipe)
	if note.HasFiles() {
		_ = s.fanout.Push(ctx, UserTimelineWithFiles(note.UserID), note.ID, s.limits.User, pipe)
	}
	s.count("user")

	for _, followerID := range req.FollowerIDs {
		_ = s.fanout.Push(ctx, HomeTimeline(followerID), note.ID, s.limits.Home, pipe)
		if note.HasFiles() {
			_ = s.fanout.Push(ctx, HomeTimelineWithFiles(followerID), note.ID, s.limits.Home, pipe)
		}
		s.count("home")
	}
	for _, listID := range req.ListIDs {
		_ = s.fanout.Push(ctx, UserListTimeline(listID), note.ID, s.limits.UserList, pipe)
		if note.HasFiles() {
			_ = s.fanout.Push(ctx, UserListTimelineWithFiles(listID), note.ID, s.limits.UserList, pipe)
		}
		s.count("list")
	}
	for _, antennaID := range req.AntennaIDs {
		_ = s.fanout.Push(ctx, AntennaTimeline(antennaID), note.ID, s.limits.Antenna, pipe)
		s.count("antenna")
	}
	for _, d := range DeliverTargetDimensions(note) {
		_ = s.fanout.Push(ctx, DimensionTimeline(d), note.ID, s.limits.Home, pipe)
		s.count("dimension")
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("fan out note", slog.String("noteId", note.ID), slog.Any("error", err))
		return err
	}
	return nil
}

// ReadHome returns the newest IDs from a user's home timeline.
func (s *Service) ReadHome(ctx context.Context, userID string, withFiles bool, limit int) ([]string, error) {
	bucket := HomeTimeline(userID)
	if withFiles {
		bucket = HomeTimelineWithFiles(userID)
	}
	return s.fanout.Range(ctx, bucket, limit)
}

// ReadUser returns the newest IDs from a user's own timeline.
func (s *Service) ReadUser(ctx context.Context, userID string, withReplies, withFiles bool, limit int) ([]string, error) {
	bucket := UserTimeline(userID)
	switch {
	case withFiles:
		bucket = UserTimelineWithFiles(userID)
	case withReplies:
		bucket = UserTimelineWithReplies(userID)
	}
	return s.fanout.Range(ctx, bucket, limit)
}

// ReadList returns the newest IDs from a list timeline.
func (s *Service) ReadList(ctx context.Context, listID string, withFiles bool, limit int) ([]string, error) {
	bucket := UserListTimeline(listID)
	if withFiles {
		bucket = UserListTimelineWithFiles(listID)
	}
	return s.fanout.Range(ctx, bucket, limit)
}

// ReadAntenna returns the newest IDs from an antenna timeline.
func (s *Service) ReadAntenna(ctx context.Context, antennaID string, limit int) ([]string, error) {
	return s.fanout.Range(ctx, AntennaTimeline(antennaID), limit)
}

// ReadRole returns the newest IDs from a role timeline.
func (s *Service) ReadRole(ctx context.Context, roleID string, limit int) ([]string, error) {
	return s.fanout.Range(ctx, RoleTimeline(roleID), limit)
}

// ReadDimension returns the newest IDs from a dimension partition.
func (s *Service) ReadDimension(ctx context.Context, dimension int, limit int) ([]string, error) {
	return s.fanout.Range(ctx, DimensionTimeline(NormalizeDimension(dimension)), limit)
}

// PurgeHome drops a user's home timeline buckets, forcing a rebuild from
// the backing store on next read.
func (s *Service) PurgeHome(ctx context.Context, userID string) error {
	if err := s.fanout.Purge(ctx, HomeTimeline(userID)); err != nil {
		return err
	}
	return s.fanout.Purge(ctx, HomeTimelineWithFiles(userID))
}
