package filter

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

// Filter нормализует сырые записи источников и отсекает невалидные.
type Filter struct {
	maxFutureSkew time.Duration
	clock         func() time.Time
}

// Result: итог нормализации одной выборки.
type Result struct {
	Candidates []news.Candidate
	// Invalid: записи без заголовка, даты или идентичности. В журнал не попадают.
	Invalid int
	// Duplicates: повторы внутри одной выборки (схлопнуты до первого вхождения).
	Duplicates int
}

// New создаёт экземпляр фильтра.
func New(cfg config.Pipeline, clock func() time.Time) *Filter {
	if clock == nil {
		clock = time.Now
	}
	return &Filter{maxFutureSkew: cfg.MaxFutureSkew, clock: clock}
}

// Normalize приводит записи к каноническому виду и вычисляет отпечатки.
func (f *Filter) Normalize(articles []news.RawArticle) Result {
	now := f.clock()
	seen := make(map[string]struct{}, len(articles))
	res := Result{Candidates: make([]news.Candidate, 0, len(articles))}

	for _, raw := range articles {
		article, ok := f.normalize(raw, now)
		if !ok {
			res.Invalid++
			continue
		}

		fp := news.Fingerprint(article)
		if _, dup := seen[fp]; dup {
			res.Duplicates++
			continue
		}
		seen[fp] = struct{}{}
		res.Candidates = append(res.Candidates, news.Candidate{Fingerprint: fp, Article: article})
	}
	return res
}

func (f *Filter) normalize(raw news.RawArticle, now time.Time) (news.RawArticle, bool) {
	a := raw
	a.Title = strings.Join(strings.Fields(PlainText(raw.Title)), " ")
	a.Body = strings.TrimSpace(PlainText(raw.Body))
	a.URL = strings.TrimSpace(raw.URL)
	a.Source = strings.TrimSpace(raw.Source)

	if a.Title == "" {
		return a, false
	}
	if a.PublishedAt.IsZero() {
		return a, false
	}
	a.PublishedAt = a.PublishedAt.UTC()
	// Фильтруем статьи с датой в будущем (некорректные даты в лентах)
	if a.PublishedAt.After(now.Add(f.maxFutureSkew)) {
		return a, false
	}
	if a.URL == "" && a.Source == "" {
		return a, false
	}
	return a, true
}

// PlainText убирает HTML-разметку. Текст без тегов возвращается как есть.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
