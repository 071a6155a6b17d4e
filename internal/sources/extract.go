package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/maine/goodnews_feed/internal/news"
)

const (
	maxEnrichedBody    = 5000
	enrichConcurrency  = 4
	enrichFetchTimeout = 15 * time.Second
)

// Enricher догружает полный текст статьи, если источник отдал только короткий анонс.
type Enricher struct {
	client *http.Client
	minLen int
	logger *slog.Logger
}

// NewEnricher создаёт экстрактор. minLen: длина текста, ниже которой статья догружается.
func NewEnricher(client *http.Client, minLen int, logger *slog.Logger) *Enricher {
	if client == nil {
		client = &http.Client{Timeout: enrichFetchTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{client: client, minLen: minLen, logger: logger}
}

// EnrichAll обрабатывает статьи с ограничением параллелизма. Ошибки не фатальны:
// статья остаётся с исходным текстом.
func (e *Enricher) EnrichAll(ctx context.Context, articles []news.RawArticle) []news.RawArticle {
	out := make([]news.RawArticle, len(articles))
	copy(out, articles)

	var g errgroup.Group
	g.SetLimit(enrichConcurrency)
	for i := range out {
		if len([]rune(strings.TrimSpace(out[i].Body))) >= e.minLen || out[i].URL == "" {
			continue
		}
		g.Go(func() error {
			text, err := e.extract(ctx, out[i].URL)
			if err != nil {
				e.logger.Debug("readability extraction failed", "url", out[i].URL, "error", err)
				return nil
			}
			if len(text) > len(out[i].Body) {
				out[i].Body = text
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) extract(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if runes := []rune(text); len(runes) > maxEnrichedBody {
		text = string(runes[:maxEnrichedBody])
	}
	return text, nil
}
