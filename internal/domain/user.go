package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoRecipient  = errors.New("user has no address for this channel")
)

// User is owned by the chat front-end; this service only reads it.
type User struct {
	ID        string
	ChatID    *int64
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
