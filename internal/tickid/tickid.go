package tickid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random UUID v4 tick ID.
func New() string {
	return uuid.NewString()
}

// WithTickID returns a copy of ctx carrying the tick ID, so every log line written
// while the tick runs can be correlated.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the tick ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
