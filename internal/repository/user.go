package repository

import (
	"context"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

// UserRepository is read-only: users are created by the chat front-end.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}
