package news

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "  ", want: ""},
		{name: "lowercase host", in: "HTTPS://Example.COM/Path", want: "https://example.com/Path"},
		{name: "drop fragment", in: "https://example.com/a#top", want: "https://example.com/a"},
		{name: "drop tracking", in: "https://example.com/a?utm_source=x&id=7&fbclid=1", want: "https://example.com/a?id=7"},
		{name: "trailing slash", in: "https://example.com/a/", want: "https://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	published := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := RawArticle{URL: "https://example.com/story?utm_medium=rss", Title: "A"}
	b := RawArticle{URL: "https://EXAMPLE.com/story/", Title: "B"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Errorf("same canonical URL must give same fingerprint")
	}

	noURL1 := RawArticle{Title: "Puppy  Rescued", Source: "bbc-news", PublishedAt: published}
	noURL2 := RawArticle{Title: "puppy rescued", Source: "BBC-News", PublishedAt: published.Add(3 * time.Hour)}
	if Fingerprint(noURL1) != Fingerprint(noURL2) {
		t.Errorf("title/source/date fallback must ignore case, spacing and time of day")
	}

	noURL3 := noURL1
	noURL3.PublishedAt = published.AddDate(0, 0, 1)
	if Fingerprint(noURL1) == Fingerprint(noURL3) {
		t.Errorf("different publish date must give different fingerprint")
	}

	if len(Fingerprint(a)) != 64 {
		t.Errorf("fingerprint must be sha256 hex")
	}
}

func TestParseCategory(t *testing.T) {
	for _, valid := range []string{"cute_or_fun", "improvement", "heartwarming", "none"} {
		if _, ok := ParseCategory(valid); !ok {
			t.Errorf("ParseCategory(%q) should be ok", valid)
		}
	}
	for _, invalid := range []string{"", "Cute_Or_Fun", "user_submitted", "rejected", "politics"} {
		if _, ok := ParseCategory(invalid); ok {
			t.Errorf("ParseCategory(%q) should fail", invalid)
		}
	}
	if CategoryNone.Good() {
		t.Errorf("none is not good")
	}
}

func TestErrorMatching(t *testing.T) {
	var err error = fmt.Errorf("judge batch: %w", &RateLimitedError{RetryAfter: time.Second})
	if !errors.Is(err, ErrJudgeRateLimited) {
		t.Errorf("RateLimitedError must match ErrJudgeRateLimited")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter != time.Second {
		t.Errorf("errors.As must expose RetryAfter")
	}

	conflict := fmt.Errorf("record: %w", &ConflictError{Fingerprint: "fp", Existing: DispositionRejected, Attempted: DispositionAccepted})
	if !errors.Is(conflict, ErrLedgerConflict) {
		t.Errorf("ConflictError must match ErrLedgerConflict")
	}
}
