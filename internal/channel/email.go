package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/resend/resend-go/v2"
)

// EmailSender delivers reminders through the Resend API.
type EmailSender struct {
	emails resend.EmailsSvc
	from   string
	logger *slog.Logger
}

func NewEmailSender(apiKey, from string, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		emails: resend.NewClient(apiKey).Emails,
		from:   from,
		logger: logger.With("component", "channel.email"),
	}
}

func (s *EmailSender) SendText(ctx context.Context, user *domain.User, text string) error {
	if user.Email == nil || *user.Email == "" {
		return domain.ErrNoRecipient
	}
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{*user.Email},
		Subject: subjectOf(text),
		Text:    text,
	}
	if _, err := s.emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Replay is a no-op: archived chat messages cannot be copied into an e-mail.
func (s *EmailSender) Replay(ctx context.Context, user *domain.User, a domain.Attachment) error {
	s.logger.DebugContext(ctx, "attachment skipped for email delivery",
		"user_id", user.ID, "source_message_id", a.SourceMessageID)
	return nil
}

func subjectOf(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	if r := []rune(first); len(r) > 78 {
		first = string(r[:75]) + "..."
	}
	return "Reminder: " + first
}
