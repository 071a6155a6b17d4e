package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

const (
	newsAPIName        = "newsapi"
	newsAPIMaxPageSize = 100
	newsAPIMaxPages    = 5
	newsAPIAttempts    = 3
)

// NewsAPISource: выборка /v2/everything с newsapi.org по списку изданий.
type NewsAPISource struct {
	cfg    config.NewsAPI
	apiKey string
	client *http.Client
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewNewsAPISource создаёт источник. apiKey обязателен.
func NewNewsAPISource(cfg config.NewsAPI, apiKey string, client *http.Client, logger *slog.Logger) *NewsAPISource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 || cfg.PageSize > newsAPIMaxPageSize {
		cfg.PageSize = newsAPIMaxPageSize
	}
	if cfg.MaxPages <= 0 || cfg.MaxPages > newsAPIMaxPages {
		cfg.MaxPages = newsAPIMaxPages
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://newsapi.org/v2"
	}
	if len(cfg.SourceIDs) == 0 {
		cfg.SourceIDs = config.DefaultNewsAPISources
	}
	return &NewsAPISource{cfg: cfg, apiKey: apiKey, client: client, logger: logger, sleep: sleepCtx}
}

// Name реализует Source.
func (s *NewsAPISource) Name() string { return newsAPIName }

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// Fetch реализует Source. Бесплатный тариф отдаёт данные с задержкой,
// поэтому оба конца окна сдвигаются назад на ProviderDelay.
func (s *NewsAPISource) Fetch(ctx context.Context, window news.Window) ([]news.RawArticle, error) {
	from := window.Start.Add(-s.cfg.ProviderDelay).UTC()
	to := window.End.Add(-s.cfg.ProviderDelay).UTC()

	var articles []news.RawArticle
	for page := 1; page <= s.cfg.MaxPages; page++ {
		resp, err := s.fetchPage(ctx, from, to, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			// уже полученные страницы не теряем
			s.logger.Warn("newsapi page failed, keeping earlier pages", "page", page, "error", err)
			break
		}

		for _, a := range resp.Articles {
			articles = append(articles, toRawArticle(a))
		}
		if len(resp.Articles) < s.cfg.PageSize {
			break
		}
	}
	return articles, nil
}

func (s *NewsAPISource) fetchPage(ctx context.Context, from, to time.Time, page int) (newsAPIResponse, error) {
	params := url.Values{}
	params.Set("sources", strings.Join(s.cfg.SourceIDs, ","))
	params.Set("from", from.Format("2006-01-02T15:04:05"))
	params.Set("to", to.Format("2006-01-02T15:04:05"))
	params.Set("sortBy", "publishedAt")
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(s.cfg.PageSize))
	params.Set("page", strconv.Itoa(page))
	endpoint := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/everything?" + params.Encode()

	for attempt := 1; attempt <= newsAPIAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return newsAPIResponse{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Api-Key", s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return newsAPIResponse{}, fmt.Errorf("do request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			wait := retryAfter(resp.Header.Get("Retry-After"), time.Duration(attempt*2)*time.Second)
			s.logger.Warn("newsapi rate limited", "page", page, "wait", wait, "attempt", attempt)
			if err := s.sleep(ctx, wait); err != nil {
				return newsAPIResponse{}, err
			}
			continue
		}

		var body newsAPIResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newsAPIResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body.Message)
		}
		if decodeErr != nil {
			return newsAPIResponse{}, fmt.Errorf("decode response: %w", decodeErr)
		}
		if body.Status != "ok" {
			return newsAPIResponse{}, fmt.Errorf("newsapi error %s: %s", body.Code, body.Message)
		}
		return body, nil
	}
	return newsAPIResponse{}, fmt.Errorf("newsapi page %d: still rate limited after %d attempts", page, newsAPIAttempts)
}

func toRawArticle(a newsAPIArticle) news.RawArticle {
	// дата, которую не удалось разобрать, остаётся нулевой и отсеется нормализацией
	published, _ := time.Parse(time.RFC3339, a.PublishedAt)
	body := a.Description
	if strings.TrimSpace(body) == "" {
		body = a.Content
	}
	source := a.Source.ID
	if source == "" {
		source = a.Source.Name
	}
	return news.RawArticle{
		Source:      source,
		Title:       a.Title,
		Body:        body,
		URL:         a.URL,
		PublishedAt: published.UTC(),
		Metadata: map[string]string{
			"provider":    newsAPIName,
			"source_name": a.Source.Name,
		},
	}
}

func retryAfter(header string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
