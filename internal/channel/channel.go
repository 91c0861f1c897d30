// Package channel delivers reminder messages to their recipients.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
)

const (
	KindLog      = "log"
	KindTelegram = "telegram"
	KindEmail    = "email"
)

// Sender is a delivery channel. Either method may return *domain.RateLimitError when
// the provider refuses traffic for a while, or *domain.RetryHintError when a failure
// comes with its own retry delay.
type Sender interface {
	SendText(ctx context.Context, user *domain.User, text string) error
	// Replay copies an archived message to the user, after the text.
	Replay(ctx context.Context, user *domain.User, a domain.Attachment) error
}

type Options struct {
	Kind          string
	TelegramToken string
	ResendAPIKey  string
	ResendFrom    string
}

// New builds the configured channel. Telegram verifies the token on construction.
func New(opts Options, logger *slog.Logger) (Sender, error) {
	switch opts.Kind {
	case KindLog, "":
		return NewLogSender(logger), nil
	case KindTelegram:
		return NewTelegramSender(opts.TelegramToken, &http.Client{Timeout: 15 * time.Second})
	case KindEmail:
		return NewEmailSender(opts.ResendAPIKey, opts.ResendFrom, logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", opts.Kind)
	}
}

// LogSender logs messages instead of delivering them. Used in local development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "channel.log")}
}

func (s *LogSender) SendText(ctx context.Context, user *domain.User, text string) error {
	s.logger.InfoContext(ctx, "reminder (local dev)", "user_id", user.ID, "text", text)
	return nil
}

func (s *LogSender) Replay(ctx context.Context, user *domain.User, a domain.Attachment) error {
	s.logger.InfoContext(ctx, "attachment (local dev)",
		"user_id", user.ID,
		"position", a.Position,
		"source_chat_id", a.SourceChatID,
		"source_message_id", a.SourceMessageID,
	)
	return nil
}
