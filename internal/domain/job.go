package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Job is the envelope carried on the queue for every unit of background work.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobState is the tracked status of a background job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsActive reports whether the job still has work ahead of it.
func (s JobState) IsActive() bool { return s == JobQueued || s == JobRunning }

// JobStatusRecord is the ephemeral tracking entry for one job.
type JobStatusRecord struct {
	JobID       string     `json:"job_id"`
	Status      JobState   `json:"status"`
	Queue       string     `json:"queue,omitempty"`
	Kind        string     `json:"job_class,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// JobMetadata carries the optional fields merged into a record on each write.
// Empty fields leave the stored value untouched.
type JobMetadata struct {
	Queue string `json:"queue,omitempty"`
	Kind  string `json:"job_class,omitempty"`
	Error string `json:"error,omitempty"`
}

// JobCounts summarises the records of one correlation id by status.
type JobCounts struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Active is the number of queued plus running jobs.
func (c JobCounts) Active() int { return c.Queued + c.Running }

// CountJobs tallies records by status.
func CountJobs(records map[string]*JobStatusRecord) JobCounts {
	var c JobCounts
	for _, r := range records {
		c.Total++
		switch r.Status {
		case JobQueued:
			c.Queued++
		case JobRunning:
			c.Running++
		case JobCompleted:
			c.Completed++
		case JobFailed:
			c.Failed++
		}
	}
	return c
}

// ErrorLimit is the longest error message, in characters, kept on a record or broadcast.
const ErrorLimit = 500

const truncatedSuffix = "... (truncated)"

// TruncateError keeps the first limit characters of msg and marks the cut.
// Applying it twice with the same limit gives the same result.
func TruncateError(msg string, limit int) string {
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	n := 0
	for i := range msg {
		if n == limit {
			return msg[:i] + truncatedSuffix
		}
		n++
	}
	return msg
}
