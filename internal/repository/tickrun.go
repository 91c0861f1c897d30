package repository

import (
	"context"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

type TickRunRepository interface {
	Start(ctx context.Context, run *domain.TickRun) error
	Finish(ctx context.Context, run *domain.TickRun) error
	Health(ctx context.Context) (*domain.TickHealth, error)
}
