// Package agent invokes the external agent that does the actual research
// work for an execution.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// Progress is reported while the agent works.
type Progress struct {
	Phase domain.Phase
	Step  *domain.Step
}

// Outcome is the agent's final answer.
type Outcome struct {
	Result   string          `json:"result"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Sources  []domain.Source `json:"sources,omitempty"`
	Steps    []domain.Step   `json:"steps,omitempty"`
}

// Runner executes an agent for one execution. progress may be nil.
type Runner interface {
	Run(ctx context.Context, exec *domain.Execution, input map[string]any, progress func(Progress)) (*Outcome, error)
}

// RunError is returned when the agent answered but reported a failure.
type RunError struct {
	StatusCode int
	Message    string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Message)
}

type runRequest struct {
	ExecutionID   string         `json:"execution_id"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Workflow      bool           `json:"workflow"`
	Owner         domain.Owner   `json:"owner"`
	Input         map[string]any `json:"input"`
}

type wireStep struct {
	domain.Step
	Phase domain.Phase `json:"phase,omitempty"`
}

type runResponse struct {
	Result   string          `json:"result"`
	Metadata map[string]any  `json:"metadata"`
	Sources  []domain.Source `json:"sources"`
	Steps    []wireStep      `json:"steps"`
	Error    string          `json:"error"`
}

// HTTPRunner posts the execution to an agent endpoint and waits for the answer.
// Steps in the answer are replayed through progress in order; a step carrying
// a phase reports that phase first.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRunner creates an HTTPRunner. timeout bounds the whole agent run.
func NewHTTPRunner(endpoint string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Run(ctx context.Context, exec *domain.Execution, input map[string]any, progress func(Progress)) (*Outcome, error) {
	ctx, span := otel.Tracer("agent").Start(ctx, "agent.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.Bool("execution.workflow", exec.Workflow),
	)

	body, err := json.Marshal(runRequest{
		ExecutionID:   exec.ID,
		InteractionID: exec.InteractionID,
		Workflow:      exec.Workflow,
		Owner:         exec.Owner,
		Input:         input,
	})
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent call failed")
		return nil, fmt.Errorf("call agent: %w", err)
	}
	defer resp.Body.Close()

	var out runResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&out); err != nil && resp.StatusCode < 300 {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid agent response")
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if resp.StatusCode >= 300 || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		err := &RunError{StatusCode: resp.StatusCode, Message: msg}
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		return nil, err
	}

	outcome := &Outcome{Result: out.Result, Metadata: out.Metadata, Sources: out.Sources}
	for _, s := range out.Steps {
		step := s.Step
		outcome.Steps = append(outcome.Steps, step)
		if progress != nil {
			progress(Progress{Phase: s.Phase, Step: &step})
		}
	}
	return outcome, nil
}
