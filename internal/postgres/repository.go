// Package postgres is the system of record: executions, output actions with
// their delivery log, and scheduled triggers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// ExecutionRepository abstracts all database access for executions.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *domain.Execution) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	UpdatePhase(ctx context.Context, id string, phase domain.Phase) error
	AppendStep(ctx context.Context, id string, step domain.Step) error
	CompleteExecution(ctx context.Context, id, result string, metadata map[string]any) error
	MarkFailed(ctx context.Context, id, message string) (bool, error)
}

type executionRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionRepository wraps a pgxpool with the ExecutionRepository interface.
func NewExecutionRepository(pool *pgxpool.Pool) ExecutionRepository {
	return &executionRepository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *executionRepository) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	if exec.Phase == "" {
		exec.Phase = domain.PhaseInitializing
	}
	if exec.Status == "" {
		exec.Status = domain.ExecutionRunning
	}
	metadata := exec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	steps := exec.Steps
	if steps == nil {
		steps = []domain.Step{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO executions
			(id, interaction_id, workflow, owner_type, owner_id, owner_name,
			 phase, status, metadata, steps, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		exec.ID, exec.InteractionID, exec.Workflow,
		string(exec.Owner.Type), exec.Owner.ID, exec.Owner.Name,
		string(exec.Phase), string(exec.Status), metadata, steps,
		exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution %s: %w", exec.ID, err)
	}
	return nil
}

func (r *executionRepository) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, interaction_id, workflow, owner_type, owner_id, owner_name,
		       phase, status, error_message, result, metadata, steps,
		       created_at, updated_at, completed_at
		FROM executions
		WHERE id = $1
	`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ExecutionNotFoundError{ExecutionID: id}
	}
	return exec, err
}

// UpdatePhase refuses to touch a failed execution.
func (r *executionRepository) UpdatePhase(ctx context.Context, id string, phase domain.Phase) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET phase = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'failed'
	`, id, string(phase))
	if err != nil {
		return fmt.Errorf("update phase for execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *executionRepository) AppendStep(ctx context.Context, id string, step domain.Step) error {
	raw, err := json.Marshal([]domain.Step{step})
	if err != nil {
		return fmt.Errorf("encode step: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET steps = steps || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, string(raw))
	if err != nil {
		return fmt.Errorf("append step for execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ExecutionNotFoundError{ExecutionID: id}
	}
	return nil
}

// CompleteExecution stores the full result. Metadata keys are merged into
// what is already stored.
func (r *executionRepository) CompleteExecution(ctx context.Context, id, result string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status = 'completed', phase = 'completed', result = $2,
		    metadata = metadata || $3::jsonb,
		    updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND status <> 'failed'
	`, id, result, metadata)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// MarkFailed is a conditional update: only the first caller flips the status.
func (r *executionRepository) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status = 'failed', error_message = $2,
		    updated_at = NOW(), completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1 AND status <> 'failed'
	`, id, message)
	if err != nil {
		return false, fmt.Errorf("mark execution %s failed: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// explainMiss turns a guarded update that matched no row into the right error.
func (r *executionRepository) explainMiss(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &domain.ExecutionNotFoundError{ExecutionID: id}
	case err != nil:
		return fmt.Errorf("read status of execution %s: %w", id, err)
	case domain.ExecutionStatus(status) == domain.ExecutionFailed:
		return &domain.ExecutionAlreadyFailedError{ExecutionID: id}
	}
	return nil
}

// scanExecution reads an execution row from any pgx row type.
func scanExecution(row interface {
	Scan(...any) error
}) (*domain.Execution, error) {
	var exec domain.Execution
	var ownerType, phase, status string
	err := row.Scan(
		&exec.ID, &exec.InteractionID, &exec.Workflow,
		&ownerType, &exec.Owner.ID, &exec.Owner.Name,
		&phase, &status, &exec.ErrorMessage, &exec.Result,
		&exec.Metadata, &exec.Steps,
		&exec.CreatedAt, &exec.UpdatedAt, &exec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Owner.Type = domain.OwnerType(ownerType)
	exec.Phase = domain.Phase(phase)
	exec.Status = domain.ExecutionStatus(status)
	return &exec, nil
}
