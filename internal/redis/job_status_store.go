package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// DefaultJobStatusTTL is how long a correlation group survives after its last write.
const DefaultJobStatusTTL = time.Hour

func jobStatusKey(correlationID string) string { return "queue:status:interaction:" + correlationID }

// JobStatusStore tracks the background jobs of one correlation id (an
// interaction) so the UI can follow them without polling the system of record.
//
// Each correlation id is one Redis hash of jobID → JSON record. Writes are
// read-merge-write on a single field, so workers updating sibling jobs never
// clobber each other; two writers on the same job id race last-write-wins.
type JobStatusStore interface {
	RecordQueued(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error
	RecordStarted(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error
	RecordCompleted(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error
	RecordFailed(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error
	Remove(ctx context.Context, correlationID, jobID string) error
	ListJobs(ctx context.Context, correlationID string) (map[string]*domain.JobStatusRecord, error)
	CountsByStatus(ctx context.Context, correlationID string) (domain.JobCounts, error)
	HasActiveJobs(ctx context.Context, correlationID string) (bool, error)
	Clear(ctx context.Context, correlationID string) error
}

// StatusUpdate is the QueueStatusUpdated body published after every write.
type StatusUpdate struct {
	InteractionID string                  `json:"interaction_id"`
	JobID         string                  `json:"job_id"`
	Status        domain.JobState         `json:"status"`
	Job           *domain.JobStatusRecord `json:"job"`
	Counts        domain.JobCounts        `json:"counts"`
	HasActiveJobs bool                    `json:"has_active_jobs"`
	Timestamp     time.Time               `json:"timestamp"`
}

type jobStatusStore struct {
	client      *redis.Client
	broadcaster broadcast.Broadcaster
	logger      *slog.Logger
	ttl         time.Duration
	now         func() time.Time
}

// JobStatusOption configures a JobStatusStore.
type JobStatusOption func(*jobStatusStore)

// WithTTL overrides DefaultJobStatusTTL.
func WithTTL(d time.Duration) JobStatusOption { return func(s *jobStatusStore) { s.ttl = d } }

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) JobStatusOption { return func(s *jobStatusStore) { s.now = now } }

// NewJobStatusStore creates a Redis-backed JobStatusStore. broadcaster may be
// nil, in which case writes are not announced.
func NewJobStatusStore(client *redis.Client, broadcaster broadcast.Broadcaster, logger *slog.Logger, opts ...JobStatusOption) JobStatusStore {
	s := &jobStatusStore{
		client:      client,
		broadcaster: broadcaster,
		logger:      logger,
		ttl:         DefaultJobStatusTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *jobStatusStore) RecordQueued(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error {
	return s.write(ctx, correlationID, jobID, domain.JobQueued, meta)
}

func (s *jobStatusStore) RecordStarted(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error {
	return s.write(ctx, correlationID, jobID, domain.JobRunning, meta)
}

func (s *jobStatusStore) RecordCompleted(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error {
	return s.write(ctx, correlationID, jobID, domain.JobCompleted, meta)
}

func (s *jobStatusStore) RecordFailed(ctx context.Context, correlationID, jobID string, meta domain.JobMetadata) error {
	meta.Error = domain.TruncateError(meta.Error, domain.ErrorLimit)
	return s.write(ctx, correlationID, jobID, domain.JobFailed, meta)
}

func (s *jobStatusStore) write(ctx context.Context, correlationID, jobID string, status domain.JobState, meta domain.JobMetadata) error {
	key := jobStatusKey(correlationID)
	now := s.now().UTC()

	rec, err := s.get(ctx, key, jobID)
	if err != nil {
		telemetry.TrackingWritesTotal.WithLabelValues(string(status), "error").Inc()
		return err
	}
	if rec == nil {
		rec = &domain.JobStatusRecord{JobID: jobID}
	}
	merge(rec, status, meta, now)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job status %s: %w", jobID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobID, data)
	// The TTL belongs to the group: any activity keeps every sibling alive.
	pipe.Expire(ctx, key, s.ttl)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.TrackingWritesTotal.WithLabelValues(string(status), "error").Inc()
		return fmt.Errorf("redis write job status %s/%s: %w", correlationID, jobID, err)
	}
	telemetry.TrackingWritesTotal.WithLabelValues(string(status), "ok").Inc()

	counts := domain.CountJobs(s.decodeAll(correlationID, all.Val()))
	s.announce(ctx, StatusUpdate{
		InteractionID: correlationID,
		JobID:         jobID,
		Status:        status,
		Job:           rec,
		Counts:        counts,
		HasActiveJobs: counts.Active() > 0,
		Timestamp:     now,
	})
	return nil
}

// merge applies a transition: updated_at always, created_at once, and the
// timestamp matching the new status.
func merge(rec *domain.JobStatusRecord, status domain.JobState, meta domain.JobMetadata, now time.Time) {
	rec.Status = status
	if meta.Queue != "" {
		rec.Queue = meta.Queue
	}
	if meta.Kind != "" {
		rec.Kind = meta.Kind
	}
	if meta.Error != "" {
		rec.Error = meta.Error
	}
	if rec.CreatedAt == nil {
		rec.CreatedAt = &now
	}
	switch status {
	case domain.JobRunning:
		rec.StartedAt = &now
	case domain.JobCompleted:
		rec.CompletedAt = &now
	case domain.JobFailed:
		rec.FailedAt = &now
	}
	rec.UpdatedAt = &now
}

func (s *jobStatusStore) announce(ctx context.Context, update StatusUpdate) {
	if s.broadcaster == nil {
		return
	}
	broadcast.Send(ctx, s.broadcaster, s.logger, broadcast.Channel(update.InteractionID), broadcast.EventQueueStatusUpdated, update)
}

func (s *jobStatusStore) get(ctx context.Context, key, jobID string) (*domain.JobStatusRecord, error) {
	data, err := s.client.HGet(ctx, key, jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get job status %s: %w", jobID, err)
	}
	var rec domain.JobStatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt entry is replaced by the write rather than blocking it.
		s.logger.Warn("discarding unreadable job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &rec, nil
}

func (s *jobStatusStore) decodeAll(correlationID string, raw map[string]string) map[string]*domain.JobStatusRecord {
	out := make(map[string]*domain.JobStatusRecord, len(raw))
	for jobID, data := range raw {
		var rec domain.JobStatusRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping unreadable job status",
				slog.String("interaction_id", correlationID),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[jobID] = &rec
	}
	return out
}

func (s *jobStatusStore) Remove(ctx context.Context, correlationID, jobID string) error {
	if err := s.client.HDel(ctx, jobStatusKey(correlationID), jobID).Err(); err != nil {
		return fmt.Errorf("redis remove job status %s/%s: %w", correlationID, jobID, err)
	}
	return nil
}

func (s *jobStatusStore) ListJobs(ctx context.Context, correlationID string) (map[string]*domain.JobStatusRecord, error) {
	raw, err := s.client.HGetAll(ctx, jobStatusKey(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list job status %s: %w", correlationID, err)
	}
	return s.decodeAll(correlationID, raw), nil
}

func (s *jobStatusStore) CountsByStatus(ctx context.Context, correlationID string) (domain.JobCounts, error) {
	jobs, err := s.ListJobs(ctx, correlationID)
	if err != nil {
		return domain.JobCounts{}, err
	}
	return domain.CountJobs(jobs), nil
}

func (s *jobStatusStore) HasActiveJobs(ctx context.Context, correlationID string) (bool, error) {
	c, err := s.CountsByStatus(ctx, correlationID)
	if err != nil {
		return false, err
	}
	return c.Active() > 0, nil
}

func (s *jobStatusStore) Clear(ctx context.Context, correlationID string) error {
	if err := s.client.Del(ctx, jobStatusKey(correlationID)).Err(); err != nil {
		return fmt.Errorf("redis clear job status %s: %w", correlationID, err)
	}
	return nil
}
