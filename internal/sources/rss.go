package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

// Используем один реалистичный User-Agent: часть лент отдаёт 403 ботам.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RSSSource загружает новости из одной RSS/Atom-ленты.
type RSSSource struct {
	feed     config.Feed
	client   *http.Client
	maxItems int
}

// NewRSSSource создаёт источник для ленты.
func NewRSSSource(feed config.Feed, client *http.Client, maxItems int) *RSSSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if maxItems <= 0 {
		maxItems = 100
	}
	return &RSSSource{feed: feed, client: client, maxItems: maxItems}
}

// Name реализует Source.
func (s *RSSSource) Name() string { return s.feed.ID }

// Fetch реализует Source.
func (s *RSSSource) Fetch(ctx context.Context, window news.Window) ([]news.RawArticle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// 4xx/5xx: повтор в рамках цикла бесполезен, следующий цикл попробует снова
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	// Обычно ленты отсортированы от новых к старым, берём первые maxItems
	items := feed.Items
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}

	name := s.feed.Name
	if name == "" {
		name = feed.Title
	}

	articles := make([]news.RawArticle, 0, len(items))
	for i, item := range items {
		published := itemTime(item)
		if !inWindow(published, window) {
			continue
		}
		articles = append(articles, news.RawArticle{
			Source:      s.feed.ID,
			Title:       strings.TrimSpace(item.Title),
			Body:        selectContent(item),
			URL:         strings.TrimSpace(item.Link),
			PublishedAt: published,
			Metadata: map[string]string{
				"rss_rank":  strconv.Itoa(i),
				"feed_name": name,
			},
		})
	}
	return articles, nil
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func selectContent(item *gofeed.Item) string {
	if strings.TrimSpace(item.Content) != "" {
		return item.Content
	}
	return item.Description
}
