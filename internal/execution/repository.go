// Package execution owns the two writes every component makes to an
// execution's state: advancing its phase and marking it failed.
package execution

import (
	"context"

	"github.com/ramiqadoumi/go-agent-flow/internal/domain"
)

// Repository is the slice of the system of record this package needs.
type Repository interface {
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	UpdatePhase(ctx context.Context, id string, phase domain.Phase) error
	AppendStep(ctx context.Context, id string, step domain.Step) error
	// MarkFailed sets status=failed unless it already is, reporting whether
	// this call made the change.
	MarkFailed(ctx context.Context, id, message string) (bool, error)
}
