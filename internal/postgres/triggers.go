package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// TriggerRepository stores cron-scheduled triggers.
type TriggerRepository interface {
	CreateTrigger(ctx context.Context, t *domain.Trigger) error
	EnabledTriggers(ctx context.Context) ([]domain.Trigger, error)
	MarkRun(ctx context.Context, id string, ranAt, next time.Time) error
}

type triggerRepository struct {
	pool *pgxpool.Pool
}

// NewTriggerRepository wraps a pgxpool with the TriggerRepository interface.
func NewTriggerRepository(pool *pgxpool.Pool) TriggerRepository {
	return &triggerRepository{pool: pool}
}

func (r *triggerRepository) CreateTrigger(ctx context.Context, t *domain.Trigger) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	input := t.Input
	if input == nil {
		input = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO triggers (id, name, cron_expr, agent_id, input, enabled, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Name, t.CronExpr, t.AgentID, input, t.Enabled, t.NextRunAt)
	if err != nil {
		return fmt.Errorf("create trigger %s: %w", t.ID, err)
	}
	return nil
}

func (r *triggerRepository) EnabledTriggers(ctx context.Context) ([]domain.Trigger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, cron_expr, agent_id, input, enabled, last_run_at, next_run_at
		FROM triggers
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		if err := rows.Scan(&t.ID, &t.Name, &t.CronExpr, &t.AgentID, &t.Input, &t.Enabled, &t.LastRunAt, &t.NextRunAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *triggerRepository) MarkRun(ctx context.Context, id string, ranAt, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE triggers SET last_run_at = $2, next_run_at = $3 WHERE id = $1
	`, id, ranAt, next)
	if err != nil {
		return fmt.Errorf("mark trigger %s run: %w", id, err)
	}
	return nil
}
