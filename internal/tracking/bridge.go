// Package tracking turns job-queue lifecycle signals into JobStatusStore
// updates so clients can follow the background work of an interaction.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// CorrelatedJob is implemented by job commands that belong to an interaction.
type CorrelatedJob interface {
	CorrelationID() string
}

// UniqueJob is implemented by commands with a stable identity, so retries and
// re-enqueues of the same logical job share one status entry.
type UniqueJob interface {
	UniqueID() string
}

// ChatInteractionJob is the last-resort accessor for commands that only know
// their interaction indirectly.
type ChatInteractionJob interface {
	ChatInteractionID() string
}

// CommandDecoder returns the deserialized command carried by a job, or nil
// when the job kind has no typed command.
type CommandDecoder func(job *domain.Job) (any, error)

// Bridge observes queued/started/succeeded/failed signals and records them.
// Every method is best-effort: nothing it does can fail or block the job.
// The store announces each write on the interaction channel.
type Bridge struct {
	store  redisstore.JobStatusStore
	decode CommandDecoder
	logger *slog.Logger
}

// NewBridge creates a Bridge. decode may be nil, in which case only the raw
// payload is inspected.
func NewBridge(store redisstore.JobStatusStore, decode CommandDecoder, logger *slog.Logger) *Bridge {
	return &Bridge{store: store, decode: decode, logger: logger}
}

// JobQueued records a job handed to a queue.
func (b *Bridge) JobQueued(ctx context.Context, job *domain.Job) {
	b.track(ctx, job, domain.JobQueued, nil)
}

// JobUnqueued drops the entry of a job whose hand-off to its queue failed
// after JobQueued was recorded.
func (b *Bridge) JobUnqueued(ctx context.Context, job *domain.Job) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("job tracking panicked",
				slog.String("job_id", job.ID),
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()

	ids := b.identify(job)
	if ids.correlationID == "" {
		return
	}
	if err := b.store.Remove(ctx, ids.correlationID, ids.jobID); err != nil {
		b.logger.Error("failed to remove job status",
			slog.String("job_id", job.ID),
			slog.String("interaction_id", ids.correlationID),
			slog.String("tracked_job_id", ids.jobID),
			slog.String("error", err.Error()),
		)
	}
}

// JobStarted records a job about to run.
func (b *Bridge) JobStarted(ctx context.Context, job *domain.Job) {
	b.track(ctx, job, domain.JobRunning, nil)
}

// JobSucceeded records a job whose handler returned nil.
func (b *Bridge) JobSucceeded(ctx context.Context, job *domain.Job) {
	b.track(ctx, job, domain.JobCompleted, nil)
}

// JobFailed records a job that exhausted its attempts.
func (b *Bridge) JobFailed(ctx context.Context, job *domain.Job, jobErr error) {
	b.track(ctx, job, domain.JobFailed, jobErr)
}

func (b *Bridge) track(ctx context.Context, job *domain.Job, status domain.JobState, jobErr error) {
	if job == nil {
		return
	}
	log := b.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_kind", job.Kind),
		slog.String("status", string(status)),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job tracking panicked", slog.String("error", fmt.Sprint(r)))
		}
	}()

	ids := b.identify(job)
	if ids.correlationID == "" {
		telemetry.TrackingSkippedTotal.Inc()
		return
	}

	meta := domain.JobMetadata{Queue: job.Queue, Kind: job.Kind}
	var err error
	switch status {
	case domain.JobQueued:
		err = b.store.RecordQueued(ctx, ids.correlationID, ids.jobID, meta)
	case domain.JobRunning:
		err = b.store.RecordStarted(ctx, ids.correlationID, ids.jobID, meta)
	case domain.JobCompleted:
		err = b.store.RecordCompleted(ctx, ids.correlationID, ids.jobID, meta)
	case domain.JobFailed:
		if jobErr != nil {
			meta.Error = domain.TruncateError(jobErr.Error(), domain.ErrorLimit)
		}
		err = b.store.RecordFailed(ctx, ids.correlationID, ids.jobID, meta)
	}
	if err != nil {
		log.Error("failed to track job status",
			slog.String("interaction_id", ids.correlationID),
			slog.String("tracked_job_id", ids.jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("job status tracked",
		slog.String("interaction_id", ids.correlationID),
		slog.String("tracked_job_id", ids.jobID),
	)
}

type identity struct {
	jobID         string
	correlationID string
}

// identify resolves the tracked job id and the interaction it belongs to.
// An empty correlationID means the job is not tracked.
func (b *Bridge) identify(job *domain.Job) identity {
	var cmd any
	if b.decode != nil {
		decoded, err := b.decode(job)
		if err != nil {
			b.logger.Debug("could not decode job command",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			cmd = decoded
		}
	}

	id := identity{jobID: job.ID}
	if u, ok := cmd.(UniqueJob); ok && u.UniqueID() != "" {
		id.jobID = u.UniqueID()
	}
	id.correlationID = correlationID(cmd, job.Payload)
	return id
}

// correlationID checks, in order: the command's own accessor, an
// interaction_id field, a chat_interaction object's id, and the command's
// ChatInteractionID accessor.
func correlationID(cmd any, payload json.RawMessage) string {
	if c, ok := cmd.(CorrelatedJob); ok {
		if id := c.CorrelationID(); id != "" {
			return id
		}
	}

	var fields struct {
		InteractionID   json.RawMessage `json:"interaction_id"`
		ChatInteraction *struct {
			ID json.RawMessage `json:"id"`
		} `json:"chat_interaction"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &fields) == nil {
		if id := scalarID(fields.InteractionID); id != "" {
			return id
		}
		if fields.ChatInteraction != nil {
			if id := scalarID(fields.ChatInteraction.ID); id != "" {
				return id
			}
		}
	}

	if c, ok := cmd.(ChatInteractionJob); ok {
		return c.ChatInteractionID()
	}
	return ""
}

// scalarID accepts a JSON string or integer id.
func scalarID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
