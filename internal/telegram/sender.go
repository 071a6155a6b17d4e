package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/maine/goodnews_feed/internal/news"
)

const (
	// лимит Telegram Bot API: 30 сообщений в секунду
	telegramRateLimitPerSecond = 30
	retryAttempts              = 3
	retryDelay                 = 2 * time.Second
	maxRetryDelay              = 10 * time.Second
)

// ErrNothingDelivered: ни одно сообщение не дошло ни до одного получателя.
var ErrNothingDelivered = errors.New("no messages delivered")

// Sender отправляет сообщения получателям с учётом rate limit и повторов.
type Sender struct {
	client  TelegramClient
	limiter *rate.Limiter
	logger  *slog.Logger
	delay   time.Duration
}

// NewSender создаёт новый экземпляр отправителя.
func NewSender(client TelegramClient, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(telegramRateLimitPerSecond), 1),
		logger:  logger,
		delay:   retryDelay,
	}
}

// Send отправляет каждое сообщение каждому получателю. Ошибка одного получателя
// не прерывает рассылку; ErrNothingDelivered возвращается, только если не ушло ничего.
func (s *Sender) Send(ctx context.Context, recipients []news.RecipientBinding, messages []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients provided")
	}
	if len(messages) == 0 {
		return fmt.Errorf("no messages to send")
	}

	total := len(recipients) * len(messages)
	sent := 0
	for _, recipient := range recipients {
		for _, message := range messages {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}

			if err := s.sendWithRetry(ctx, recipient.ChatID, message); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("failed to send digest message",
					"recipient", recipient.Name, "chat_id", recipient.ChatID, "error", err)
				continue
			}
			sent++
		}
	}

	s.logger.Info("digest sent", "sent", sent, "total", total, "recipients", len(recipients))
	if sent == 0 {
		return ErrNothingDelivered
	}
	return nil
}

func (s *Sender) sendWithRetry(ctx context.Context, chatID string, message string) error {
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := min(s.delay*time.Duration(attempt), maxRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.client.SendMessage(ctx, chatID, message, "Markdown")
		if err == nil {
			return nil
		}
		lastErr = err

		// чат не найден или бот заблокирован: повтор не поможет
		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

var nonRetryableErrors = []string{
	"chat not found",
	"bot was blocked",
	"user is deactivated",
	"chat_id is empty",
	"message is too long",
	"bad request",
	"forbidden",
}

// isRetryableError определяет, можно ли повторить отправку при данной ошибке.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, nonRetryable := range nonRetryableErrors {
		if strings.Contains(errStr, nonRetryable) {
			return false
		}
	}
	return true
}
