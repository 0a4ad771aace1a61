package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// ActionRepository stores output actions and their delivery log.
type ActionRepository interface {
	CreateAction(ctx context.Context, action *domain.OutputAction) error
	GetAction(ctx context.Context, id string) (*domain.OutputAction, error)
	EnabledActions(ctx context.Context, owner domain.Owner) ([]domain.OutputAction, error)
	RecordDelivery(ctx context.Context, d *domain.Delivery) error
	ListDeliveries(ctx context.Context, actionID string, limit int) ([]domain.Delivery, error)
}

type actionRepository struct {
	pool *pgxpool.Pool
}

// NewActionRepository wraps a pgxpool with the ActionRepository interface.
func NewActionRepository(pool *pgxpool.Pool) ActionRepository {
	return &actionRepository{pool: pool}
}

const actionColumns = `id, name, provider, trigger_on, config, enabled, owner_type, owner_id`

func (r *actionRepository) CreateAction(ctx context.Context, a *domain.OutputAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.TriggerOn == "" {
		a.TriggerOn = domain.TriggerOnAlways
	}
	cfg := a.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO output_actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.Name, a.Provider, string(a.TriggerOn), cfg, a.Enabled, string(a.Owner.Type), a.Owner.ID)
	if err != nil {
		return fmt.Errorf("create output action %s: %w", a.ID, err)
	}
	return nil
}

func (r *actionRepository) GetAction(ctx context.Context, id string) (*domain.OutputAction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM output_actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ActionNotFoundError{ActionID: id}
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *actionRepository) EnabledActions(ctx context.Context, owner domain.Owner) ([]domain.OutputAction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM output_actions
		WHERE owner_type = $1 AND owner_id = $2 AND enabled
		ORDER BY created_at, id
	`, string(owner.Type), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list output actions for %s %s: %w", owner.Type, owner.ID, err)
	}
	defer rows.Close()

	var out []domain.OutputAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		a.Owner.Name = owner.Name
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *actionRepository) RecordDelivery(ctx context.Context, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO output_action_deliveries
			(id, action_id, provider, success, status_code, error, attempts, acting_user_id, duration_ms, delivered_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		d.ID, d.ActionID, d.Provider, d.Success, d.StatusCode, d.Error,
		d.Attempts, d.ActingUserID, d.DurationMs, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery for action %s: %w", d.ActionID, err)
	}
	return nil
}

func (r *actionRepository) ListDeliveries(ctx context.Context, actionID string, limit int) ([]domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, action_id, provider, success, status_code, error, attempts, acting_user_id, duration_ms, delivered_at
		FROM output_action_deliveries
		WHERE action_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2
	`, actionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for action %s: %w", actionID, err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(&d.ID, &d.ActionID, &d.Provider, &d.Success, &d.StatusCode, &d.Error,
			&d.Attempts, &d.ActingUserID, &d.DurationMs, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanAction(row interface {
	Scan(...any) error
}) (*domain.OutputAction, error) {
	var a domain.OutputAction
	var triggerOn, ownerType string
	err := row.Scan(&a.ID, &a.Name, &a.Provider, &triggerOn, &a.Config, &a.Enabled, &ownerType, &a.Owner.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan output action: %w", err)
	}
	a.TriggerOn = domain.TriggerOn(triggerOn)
	a.Owner.Type = domain.OwnerType(ownerType)
	return &a, nil
}
