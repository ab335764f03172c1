package ports

import (
	"context"
	"errors"

	"lipsync/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// RunStore persists run records. Implementations: postgres (repositories.RunRepository)
// and in-memory (repositories.MemoryRunStore).
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, filter models.ListRunsFilter) ([]models.Run, error)

	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, snap models.ProgressSnapshot) error
	Finish(ctx context.Context, id string, outcome models.RunOutcome) error

	Ping(ctx context.Context) error
}
