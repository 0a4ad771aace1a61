package domain

import "time"

// ExecutionStatus is the coarse outcome of an execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal returns true if no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// OwnerType identifies what an execution (and its output actions) belongs to.
type OwnerType string

const (
	OwnerAgent   OwnerType = "agent"
	OwnerTrigger OwnerType = "trigger"
)

// Owner is the entity whose output actions fire for an execution.
type Owner struct {
	Type OwnerType `json:"type"`
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
}

// Step is one entry of an execution's progress log.
type Step struct {
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	Percentage *float64  `json:"percentage,omitempty"`
}

// Execution is one run of an agent task, as kept by the system of record.
type Execution struct {
	ID            string          `json:"id"`
	InteractionID string          `json:"interaction_id"`
	Workflow      bool            `json:"workflow"`
	Owner         Owner           `json:"owner"`
	Phase         Phase           `json:"phase"`
	Status        ExecutionStatus `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	Result        string          `json:"result,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Steps         []Step          `json:"steps,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// IsFailed reports whether the execution has reached the terminal failed status.
func (e *Execution) IsFailed() bool { return e.Status == ExecutionFailed }

// AdvancePhase moves the execution forward. Regressions and transitions on a
// failed execution are rejected; re-entering the current phase is a no-op.
func (e *Execution) AdvancePhase(p Phase) error {
	if !p.Valid() {
		return &UnknownPhaseError{Phase: string(p)}
	}
	if e.IsFailed() {
		return &ExecutionAlreadyFailedError{ExecutionID: e.ID}
	}
	if e.Phase != "" && p.Before(e.Phase) {
		return &PhaseRegressionError{ExecutionID: e.ID, From: e.Phase, To: p}
	}
	e.Phase = p
	return nil
}

// Source is a reference the agent consulted while producing a result.
type Source struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}
