package sources

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maine/goodnews_feed/internal/news"
)

// Source: один источник новостей. Fetch возвращает статьи, опубликованные в окне.
type Source interface {
	Name() string
	Fetch(ctx context.Context, window news.Window) ([]news.RawArticle, error)
}

// Collector опрашивает источники параллельно с ограничением и отдаёт результаты по мере готовности.
type Collector struct {
	sources     []Source
	byName      map[string]Source
	concurrency int
	enricher    *Enricher
	logger      *slog.Logger
}

// NewCollector создаёт сборщик. enricher может быть nil.
func NewCollector(sources []Source, concurrency int, enricher *Enricher, logger *slog.Logger) *Collector {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name()] = s
	}
	return &Collector{
		sources:     sources,
		byName:      byName,
		concurrency: concurrency,
		enricher:    enricher,
		logger:      logger,
	}
}

// Names возвращает имена подключённых источников.
func (c *Collector) Names() []string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return names
}

// Fetch опрашивает указанные источники (пустой список: все).
// Сбой источника не прерывает опрос: он приходит как SourceBatch с Err.
func (c *Collector) Fetch(ctx context.Context, names []string, window news.Window) iter.Seq[news.SourceBatch] {
	return func(yield func(news.SourceBatch) bool) {
		selected, unknown := c.selectSources(names)
		for _, name := range unknown {
			if !yield(news.SourceBatch{Source: name, Err: &news.FetchError{Source: name, Err: fmt.Errorf("unknown source")}}) {
				return
			}
		}
		if len(selected) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan news.SourceBatch, len(selected))
		go func() {
			var g errgroup.Group
			g.SetLimit(c.concurrency)
			for _, src := range selected {
				g.Go(func() error {
					out <- c.fetchOne(ctx, src, window)
					return nil
				})
			}
			_ = g.Wait()
			close(out)
		}()

		for batch := range out {
			if !yield(batch) {
				cancel()
				for range out {
				}
				return
			}
		}
	}
}

func (c *Collector) fetchOne(ctx context.Context, src Source, window news.Window) news.SourceBatch {
	articles, err := src.Fetch(ctx, window)
	if err != nil {
		c.logger.Warn("source fetch failed", "source", src.Name(), "error", err)
		return news.SourceBatch{Source: src.Name(), Err: &news.FetchError{Source: src.Name(), Err: err}}
	}
	if c.enricher != nil {
		articles = c.enricher.EnrichAll(ctx, articles)
	}
	c.logger.Debug("source fetched", "source", src.Name(), "articles", len(articles))
	return news.SourceBatch{Source: src.Name(), Articles: articles}
}

func (c *Collector) selectSources(names []string) (selected []Source, unknown []string) {
	if len(names) == 0 {
		return c.sources, nil
	}
	for _, name := range names {
		src, ok := c.byName[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, src)
	}
	return selected, unknown
}

// inWindow проверяет попадание даты публикации в окно. Записи без даты пропускаются
// дальше, чтобы нормализация учла их как невалидные.
func inWindow(t time.Time, w news.Window) bool {
	if t.IsZero() {
		return true
	}
	return !t.Before(w.Start) && !t.After(w.End)
}
