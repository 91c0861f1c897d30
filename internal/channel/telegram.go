package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the part of *tgbotapi.BotAPI the sender uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	CopyMessage(c tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
}

type TelegramSender struct {
	bot botAPI
}

func NewTelegramSender(token string, client *http.Client) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// The bot library takes no context, so cancellation is only honoured between calls.
func (s *TelegramSender) SendText(ctx context.Context, user *domain.User, text string) error {
	if user.ChatID == nil {
		return domain.ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(*user.ChatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", classifyTelegram(err))
	}
	return nil
}

func (s *TelegramSender) Replay(ctx context.Context, user *domain.User, a domain.Attachment) error {
	if user.ChatID == nil {
		return domain.ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewCopyMessage(*user.ChatID, a.SourceChatID, a.SourceMessageID)
	if _, err := s.bot.CopyMessage(cfg); err != nil {
		return fmt.Errorf("telegram copy message %d: %w", a.SourceMessageID, classifyTelegram(err))
	}
	return nil
}

// classifyTelegram maps Bot API errors onto the domain retry errors.
// 429 is a flood-wait; other errors may still carry retry_after.
func classifyTelegram(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		var valErr tgbotapi.Error
		if !errors.As(err, &valErr) {
			return err
		}
		apiErr = &valErr
	}

	retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: retryAfter, Err: err}
	case retryAfter > 0:
		return &domain.RetryHintError{After: retryAfter, Err: err}
	default:
		return err
	}
}
