// Package handler implements the HTTP surface of the API gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/broadcast"
	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/internal/signature"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
)

// HeaderActingUser names the user on whose behalf a request is made.
const HeaderActingUser = "X-Acting-User"

// Submitter starts executions. handlers.Submitter satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req handlers.SubmitRequest) (*domain.Execution, *domain.Job, error)
}

// ExecutionReader loads executions from the system of record.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
}

// ActionStore loads output actions and their delivery log.
type ActionStore interface {
	GetAction(ctx context.Context, id string) (*domain.OutputAction, error)
	ListDeliveries(ctx context.Context, actionID string, limit int) ([]domain.Delivery, error)
}

// ActionTester runs one action synchronously. actions.Dispatcher satisfies it.
type ActionTester interface {
	Test(ctx context.Context, action *domain.OutputAction, payload map[string]any, actingUserID string) actions.TestResult
}

// Subscriber streams the real-time events of a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, logger *slog.Logger) (<-chan broadcast.Envelope, error)
}

// Deps groups the collaborators of REST. Subscriber may be nil, which
// disables the event stream.
type Deps struct {
	Jobs       redisstore.JobStatusStore
	Submitter  Submitter
	Executions ExecutionReader
	Actions    ActionStore
	Tester     ActionTester
	Subscriber Subscriber
	Verifier   signature.Verifier
	Logger     *slog.Logger
}

// REST handles HTTP requests for the API Gateway.
type REST struct {
	jobs       redisstore.JobStatusStore
	submitter  Submitter
	executions ExecutionReader
	actions    ActionStore
	tester     ActionTester
	subscriber Subscriber
	verifier   signature.Verifier
	logger     *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(d Deps) *REST {
	return &REST{
		jobs:       d.Jobs,
		submitter:  d.Submitter,
		executions: d.Executions,
		actions:    d.Actions,
		tester:     d.Tester,
		subscriber: d.Subscriber,
		verifier:   d.Verifier,
		logger:     d.Logger,
	}
}

// Routes mounts the /api/v1 endpoints on r.
func (h *REST) Routes(r chi.Router) {
	r.Route("/interactions/{id}", func(r chi.Router) {
		r.Get("/jobs", h.ListJobs)
		r.Delete("/jobs", h.ClearJobs)
		r.Delete("/jobs/{jobID}", h.RemoveJob)
		if h.subscriber != nil {
			r.Get("/events", h.StreamEvents)
		}
	})
	r.Post("/executions", h.SubmitExecution)
	r.Get("/executions/{id}", h.GetExecution)
	r.Post("/output-actions/{id}/test", h.TestAction)
	r.Get("/output-actions/{id}/deliveries", h.ListDeliveries)
	r.Post("/signatures/verify", h.VerifySignature)
}

// ── job status ───────────────────────────────────────────────────────────────

// JobsResponse is the GET /interactions/{id}/jobs body.
type JobsResponse struct {
	InteractionID string                             `json:"interaction_id"`
	Jobs          map[string]*domain.JobStatusRecord `json:"jobs"`
	Counts        domain.JobCounts                   `json:"counts"`
	HasActiveJobs bool                               `json:"has_active_jobs"`
}

// ListJobs handles GET /api/v1/interactions/{id}/jobs.
func (h *REST) ListJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := h.jobs.ListJobs(r.Context(), id)
	if err != nil {
		h.logger.Error("list jobs", slog.String("interaction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	counts := domain.CountJobs(records)
	writeJSON(w, http.StatusOK, JobsResponse{
		InteractionID: id,
		Jobs:          records,
		Counts:        counts,
		HasActiveJobs: counts.Active() > 0,
	})
}

// ClearJobs handles DELETE /api/v1/interactions/{id}/jobs.
func (h *REST) ClearJobs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.Clear(r.Context(), id); err != nil {
		h.logger.Error("clear jobs", slog.String("interaction_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to clear jobs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveJob handles DELETE /api/v1/interactions/{id}/jobs/{jobID}.
func (h *REST) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id, jobID := chi.URLParam(r, "id"), chi.URLParam(r, "jobID")
	if err := h.jobs.Remove(r.Context(), id, jobID); err != nil {
		h.logger.Error("remove job",
			slog.String("interaction_id", id),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to remove job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── executions ───────────────────────────────────────────────────────────────

// SubmitExecutionRequest is the JSON body for POST /api/v1/executions.
type SubmitExecutionRequest struct {
	InteractionID string         `json:"interaction_id"`
	Workflow      bool           `json:"workflow"`
	Owner         domain.Owner   `json:"owner"`
	Input         map[string]any `json:"input"`
}

// SubmitExecutionResponse is the 202 response body.
type SubmitExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	JobID       string                 `json:"job_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Phase       domain.Phase           `json:"phase"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SubmitExecution handles POST /api/v1/executions.
func (h *REST) SubmitExecution(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.submit_execution")
	defer span.End()

	var req SubmitExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Owner.Type {
	case domain.OwnerAgent, domain.OwnerTrigger:
	default:
		writeError(w, http.StatusBadRequest, "field 'owner.type' must be agent or trigger")
		return
	}
	if strings.TrimSpace(req.Owner.ID) == "" {
		writeError(w, http.StatusBadRequest, "field 'owner.id' is required")
		return
	}

	exec, job, err := h.submitter.Submit(ctx, handlers.SubmitRequest{
		InteractionID: req.InteractionID,
		Workflow:      req.Workflow,
		Owner:         req.Owner,
		Input:         req.Input,
		ActingUserID:  r.Header.Get(HeaderActingUser),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		h.logger.Error("failed to submit execution", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit execution")
		return
	}

	span.SetAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("job.id", job.ID),
	)
	telemetry.APIExecutionsSubmitted.WithLabelValues(string(req.Owner.Type)).Inc()

	writeJSON(w, http.StatusAccepted, SubmitExecutionResponse{
		ExecutionID: exec.ID,
		JobID:       job.ID,
		Status:      exec.Status,
		Phase:       exec.Phase,
		CreatedAt:   exec.CreatedAt,
	})
}

// GetExecution handles GET /api/v1/executions/{id}.
func (h *REST) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := h.executions.GetExecution(r.Context(), id)
	if err != nil {
		var notFound *domain.ExecutionNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.Error("get execution", slog.String("execution_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// ── output actions ───────────────────────────────────────────────────────────

// TestActionRequest is the optional JSON body for POST /output-actions/{id}/test.
type TestActionRequest struct {
	Payload map[string]any `json:"payload"`
}

// TestAction handles POST /api/v1/output-actions/{id}/test.
func (h *REST) TestAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TestActionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	action, ok := h.loadAction(w, r, id)
	if !ok {
		return
	}

	res := h.tester.Test(r.Context(), action, req.Payload, r.Header.Get(HeaderActingUser))
	writeJSON(w, http.StatusOK, res)
}

// ListDeliveries handles GET /api/v1/output-actions/{id}/deliveries?limit=N.
func (h *REST) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	if _, ok := h.loadAction(w, r, id); !ok {
		return
	}
	deliveries, err := h.actions.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list deliveries", slog.String("action_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"action_id": id, "deliveries": deliveries})
}

func (h *REST) loadAction(w http.ResponseWriter, r *http.Request, id string) (*domain.OutputAction, bool) {
	action, err := h.actions.GetAction(r.Context(), id)
	if err != nil {
		var notFound *domain.ActionNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "output action not found")
			return nil, false
		}
		h.logger.Error("get action", slog.String("action_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve output action")
		return nil, false
	}
	return action, true
}

// ── signatures ───────────────────────────────────────────────────────────────

// VerifySignatureRequest is the JSON body for POST /api/v1/signatures/verify.
type VerifySignatureRequest struct {
	Style     signature.Style `json:"style"`
	Payload   string          `json:"payload"`
	Secret    string          `json:"secret"`
	Signature string          `json:"signature"`
}

// VerifySignatureResponse reports whether the signature matched.
type VerifySignatureResponse struct {
	Valid  bool   `json:"valid"`
	Header string `json:"header"`
}

// VerifySignature handles POST /api/v1/signatures/verify.
func (h *REST) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req VerifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	style, err := signature.ParseStyle(string(req.Style))
	if err != nil || req.Style == "" {
		writeError(w, http.StatusBadRequest, "field 'style' must be simple, github, stripe, base64 or multi")
		return
	}
	if req.Secret == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "fields 'secret' and 'signature' are required")
		return
	}

	valid := h.verifier.Verify(style, []byte(req.Payload), []byte(req.Secret), req.Signature)
	writeJSON(w, http.StatusOK, VerifySignatureResponse{Valid: valid, Header: style.Header()})
}

// ── probes ───────────────────────────────────────────────────────────────────

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz returns a GET /readyz handler running every check.
func Readyz(checks map[string]telemetry.ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, name+" not ready")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
