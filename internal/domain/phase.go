package domain

// Phase is a named stage of an execution's progress.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseSearching    Phase = "searching"
	PhaseReading      Phase = "reading"
	PhaseProcessing   Phase = "processing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseStreaming    Phase = "streaming"
	PhaseCompleted    Phase = "completed"
)

type phaseInfo struct {
	order       int
	label       string
	description string
}

var phases = map[Phase]phaseInfo{
	PhaseInitializing: {0, "Initializing", "Setting up the execution environment"},
	PhasePlanning:     {1, "Planning", "Working out how to approach the task"},
	PhaseSearching:    {2, "Searching", "Looking for relevant sources"},
	PhaseReading:      {3, "Reading", "Reading and extracting from sources"},
	PhaseProcessing:   {4, "Processing", "Analysing the gathered information"},
	PhaseSynthesizing: {5, "Synthesizing", "Combining findings into a result"},
	PhaseStreaming:    {6, "Streaming", "Delivering the result"},
	PhaseCompleted:    {7, "Completed", "Execution finished"},
}

// Phases returns every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{
		PhaseInitializing, PhasePlanning, PhaseSearching, PhaseReading,
		PhaseProcessing, PhaseSynthesizing, PhaseStreaming, PhaseCompleted,
	}
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phases[p]
	return ok
}

// Label is the display name of the phase.
func (p Phase) Label() string { return phases[p].label }

// Description is a one-line summary of what happens during the phase.
func (p Phase) Description() string { return phases[p].description }

// Before reports whether p comes strictly earlier in the lifecycle than q.
func (p Phase) Before(q Phase) bool { return phases[p].order < phases[q].order }
