package filter

import (
	"testing"
	"time"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

func TestFilter_Normalize(t *testing.T) {
	now := time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC)
	cfg := config.Pipeline{MaxFutureSkew: time.Hour}
	f := New(cfg, func() time.Time { return now })

	tests := []struct {
		name        string
		articles    []news.RawArticle
		wantValid   int
		wantInvalid int
		wantDups    int
	}{
		{
			name:     "empty input",
			articles: []news.RawArticle{},
		},
		{
			name: "missing title is invalid",
			articles: []news.RawArticle{
				{Title: "   ", URL: "https://example.com/1", PublishedAt: now},
				{Title: "Good", URL: "https://example.com/2", PublishedAt: now},
			},
			wantValid:   1,
			wantInvalid: 1,
		},
		{
			name: "missing date is invalid",
			articles: []news.RawArticle{
				{Title: "No date", URL: "https://example.com/1"},
			},
			wantInvalid: 1,
		},
		{
			name: "future date is invalid",
			articles: []news.RawArticle{
				{Title: "From the future", URL: "https://example.com/1", PublishedAt: now.Add(2 * time.Hour)},
				{Title: "Slight skew", URL: "https://example.com/2", PublishedAt: now.Add(30 * time.Minute)},
			},
			wantValid:   1,
			wantInvalid: 1,
		},
		{
			name: "no url and no source is invalid",
			articles: []news.RawArticle{
				{Title: "Orphan", PublishedAt: now},
				{Title: "Has source", Source: "bbc-news", PublishedAt: now},
			},
			wantValid:   1,
			wantInvalid: 1,
		},
		{
			name: "duplicates collapse to first occurrence",
			articles: []news.RawArticle{
				{Title: "First", URL: "https://example.com/a?utm_source=rss", PublishedAt: now},
				{Title: "Second", URL: "https://EXAMPLE.com/a/", PublishedAt: now},
			},
			wantValid: 1,
			wantDups:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Normalize(tt.articles)
			if len(res.Candidates) != tt.wantValid {
				t.Errorf("Normalize() valid = %d, want %d", len(res.Candidates), tt.wantValid)
			}
			if res.Invalid != tt.wantInvalid {
				t.Errorf("Normalize() invalid = %d, want %d", res.Invalid, tt.wantInvalid)
			}
			if res.Duplicates != tt.wantDups {
				t.Errorf("Normalize() duplicates = %d, want %d", res.Duplicates, tt.wantDups)
			}
		})
	}
}

func TestFilter_NormalizeKeepsFirstAndCleansText(t *testing.T) {
	now := time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC)
	f := New(config.Pipeline{}, func() time.Time { return now })

	res := f.Normalize([]news.RawArticle{
		{Title: "  Kids   build <b>robot</b> ", Body: "<p>They <em>won</em> the fair.</p><script>x()</script>", URL: "https://example.com/r", PublishedAt: now.Add(-time.Hour)},
		{Title: "Copy", URL: "https://example.com/r", PublishedAt: now},
	})
	if len(res.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(res.Candidates))
	}
	c := res.Candidates[0]
	if c.Article.Title != "Kids build robot" {
		t.Errorf("Title = %q", c.Article.Title)
	}
	if c.Article.Body != "They won the fair." {
		t.Errorf("Body = %q", c.Article.Body)
	}
	if c.Fingerprint != news.Fingerprint(news.RawArticle{URL: "https://example.com/r"}) {
		t.Errorf("fingerprint must come from the canonical URL")
	}
}

func TestPlainText(t *testing.T) {
	tests := map[string]string{
		"plain":                   "plain",
		"  spaced  ":              "spaced",
		"Tom &amp; Jerry":         "Tom & Jerry",
		"<div><p>Hello</p></div>": "Hello",
	}
	for in, want := range tests {
		if got := PlainText(in); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
