package domain

import "time"

// TriggerOn is the outcome an output action fires for.
type TriggerOn string

const (
	TriggerOnSuccess TriggerOn = "success"
	TriggerOnFailure TriggerOn = "failure"
	TriggerOnAlways  TriggerOn = "always"
)

// Matches reports whether an action configured with t fires for outcome.
func (t TriggerOn) Matches(outcome TriggerOn) bool {
	return t == TriggerOnAlways || t == outcome
}

// OutputAction is a user-configured rule describing what to send, where, and when.
type OutputAction struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Provider  string         `json:"provider"`
	TriggerOn TriggerOn      `json:"trigger_on"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
	Owner     Owner          `json:"owner"`
}

// Delivery records a single attempt to run an output action.
type Delivery struct {
	ID           string    `json:"id"`
	ActionID     string    `json:"action_id"`
	Provider     string    `json:"provider"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"status_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
	ActingUserID string    `json:"acting_user_id,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	DeliveredAt  time.Time `json:"delivered_at"`
}

// Trigger is an inbound, cron-scheduled source of executions.
type Trigger struct {
	ID        string
	Name      string
	CronExpr  string
	AgentID   string
	Input     map[string]any
	Enabled   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
}
