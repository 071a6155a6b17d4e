package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/maine/goodnews_feed/internal/news"
)

// GeminiClient определяет интерфейс для работы с Gemini API.
// Это позволяет легко создавать моки для тестирования.
type GeminiClient interface {
	GenerateText(ctx context.Context, model string, prompt string) (string, error)
}

// Client инкапсулирует работу с Gemini API через официальный SDK.
// Временные ошибки (5xx) повторяются внутри, лимиты (429) возвращаются вызывающему
// как *news.RateLimitedError: бюджет повторов принадлежит пайплайну.
type Client struct {
	client     *genai.Client
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Убеждаемся, что Client реализует интерфейс GeminiClient.
var _ GeminiClient = (*Client)(nil)

// NewClient создаёт новый клиент для работы с Gemini API.
func NewClient(ctx context.Context, apiKey string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		client:     client,
		logger:     logger,
		maxRetries: 3,
		baseDelay:  2 * time.Second,
		maxDelay:   30 * time.Second,
	}, nil
}

// GenerateText отправляет запрос к Gemini API и возвращает текстовый ответ.
func (c *Client) GenerateText(ctx context.Context, model string, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			c.logger.Warn("retrying gemini request after temporary error", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err == nil {
			text, textErr := result.Text()
			if textErr != nil {
				return "", &news.MalformedResponseError{Err: fmt.Errorf("get text from result: %w", textErr)}
			}
			return text, nil
		}

		lastErr = err
		if classified := classifyError(err); classified != nil {
			return "", classified
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// classifyError возвращает nil для временных ошибок, которые стоит повторить.
func classifyError(err error) error {
	errStr := err.Error()
	switch {
	case isRPDQuotaError(errStr):
		// дневной лимит: повтор в этом цикле не поможет
		return &news.RateLimitedError{Err: fmt.Errorf("%w: %v", news.ErrQuotaExhausted, err)}
	case isRateLimitError(errStr):
		return &news.RateLimitedError{RetryAfter: parseRetryDelay(errStr), Err: err}
	case isServiceUnavailableError(errStr), isTemporaryError(errStr):
		return nil
	case isQuotaExceededError(errStr):
		return fmt.Errorf("gemini API quota exceeded: %w", err)
	default:
		return fmt.Errorf("generate content: %w", err)
	}
}

var retryDelayPattern = regexp.MustCompile(`(?i)retry(?:delay"?:\s*"?| in )([0-9]+(?:\.[0-9]+)?)s`)

// parseRetryDelay достаёт подсказку вида "retryDelay": "37s" или "Please retry in 12.5s".
func parseRetryDelay(errStr string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(errStr)
	if len(m) < 2 {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// isRPDQuotaError проверяет, является ли ошибка 429 связанной с дневной квотой.
func isRPDQuotaError(errStr string) bool {
	errLower := strings.ToLower(errStr)
	if !strings.Contains(errLower, "429") {
		return false
	}
	return strings.Contains(errLower, "perday") ||
		strings.Contains(errLower, "per_day") ||
		strings.Contains(errLower, "generate_content_free_tier_requests")
}

// isRateLimitError проверяет, является ли ошибка связанной с rate limit (RPM/TPM).
func isRateLimitError(errStr string) bool {
	errLower := strings.ToLower(errStr)
	return strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "429") ||
		strings.Contains(errLower, "too many requests") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "resource_exhausted")
}

// isServiceUnavailableError: модель перегружена (503).
func isServiceUnavailableError(errStr string) bool {
	errLower := strings.ToLower(errStr)
	return strings.Contains(errLower, "503") ||
		strings.Contains(errLower, "service unavailable") ||
		strings.Contains(errLower, "overloaded")
}

// isTemporaryError: 500/502/504.
func isTemporaryError(errStr string) bool {
	errLower := strings.ToLower(errStr)
	return strings.Contains(errLower, "500") ||
		strings.Contains(errLower, "502") ||
		strings.Contains(errLower, "504") ||
		strings.Contains(errLower, "internal server error") ||
		strings.Contains(errLower, "bad gateway") ||
		strings.Contains(errLower, "gateway timeout")
}

func isQuotaExceededError(errStr string) bool {
	errLower := strings.ToLower(errStr)
	return strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "daily limit") ||
		strings.Contains(errLower, "403")
}
