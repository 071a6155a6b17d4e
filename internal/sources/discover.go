package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/maine/goodnews_feed/internal/config"
)

var feedPathHints = []string{"/rss", "/feed", ".rss", ".xml", "/atom"}

// Discoverer ищет RSS/Atom-ленты на странице сайта и проверяет, что они разбираются.
type Discoverer struct {
	client   *http.Client
	maxFeeds int
}

// NewDiscoverer создаёт поисковик лент. maxFeeds ограничивает число проверяемых кандидатов.
func NewDiscoverer(client *http.Client, maxFeeds int) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxFeeds <= 0 {
		maxFeeds = 10
	}
	return &Discoverer{client: client, maxFeeds: maxFeeds}
}

// Discover возвращает ленты, найденные на siteURL, в виде записей конфига.
// Если siteURL сам является лентой, возвращается только он.
func (d *Discoverer) Discover(ctx context.Context, siteURL string) ([]config.Feed, error) {
	base, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}

	if feed, err := d.probe(ctx, base.String()); err == nil {
		return []config.Feed{feed}, nil
	}

	resp, err := d.get(ctx, base.String(), "text/html")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var found []config.Feed
	for _, candidate := range feedLinks(doc, resp.Request.URL) {
		if len(found) >= d.maxFeeds {
			break
		}
		feed, err := d.probe(ctx, candidate)
		if err != nil {
			continue
		}
		found = append(found, feed)
	}
	return found, nil
}

// feedLinks собирает ссылки: сначала объявленные в <link rel="alternate">, затем похожие на ленту <a>.
func feedLinks(doc *goquery.Document, base *url.URL) []string {
	var out []string
	add := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := strings.TrimSuffix(base.ResolveReference(ref).String(), "/")
		if !slices.Contains(out, abs) {
			out = append(out, abs)
		}
	}

	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if strings.Contains(typ, "rss") || strings.Contains(typ, "atom") {
			add(s.AttrOr("href", ""))
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if looksLikeFeed(href) {
			add(href)
		}
	})
	return out
}

func looksLikeFeed(href string) bool {
	lower := strings.ToLower(href)
	for _, hint := range feedPathHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// probe загружает кандидата и убеждается, что это лента.
func (d *Discoverer) probe(ctx context.Context, feedURL string) (config.Feed, error) {
	resp, err := d.get(ctx, feedURL, "application/rss+xml, application/atom+xml, application/xml, text/xml")
	if err != nil {
		return config.Feed{}, err
	}
	defer resp.Body.Close()

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return config.Feed{}, fmt.Errorf("parse feed: %w", err)
	}
	return config.Feed{
		ID:   feedID(resp.Request.URL),
		Name: strings.TrimSpace(parsed.Title),
		URL:  resp.Request.URL.String(),
	}, nil
}

func (d *Discoverer) get(ctx context.Context, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", accept)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, target)
	}
	return resp, nil
}

// feedID строит идентификатор из хоста и пути: example.com/feed/science → example-com-feed-science.
func feedID(u *url.URL) string {
	host := strings.TrimPrefix(u.Hostname(), "www.")
	parts := []string{strings.ReplaceAll(host, ".", "-")}
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg != "" {
			parts = append(parts, strings.TrimSuffix(seg, ".xml"))
		}
	}
	return strings.ToLower(strings.Join(parts, "-"))
}
