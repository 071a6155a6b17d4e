package dedup

import (
	"context"
	"log/slog"

	"github.com/maine/goodnews_feed/internal/news"
)

// Backend: долговременный журнал (sqlite). Он остаётся единственным источником истины.
type Backend interface {
	ContainsAny(ctx context.Context, fingerprints []string) (map[string]bool, error)
	Record(ctx context.Context, entry news.LedgerEntry) error
	PersistOutcome(ctx context.Context, article news.Article, entry news.LedgerEntry) error
}

// SeenCache: быстрый кэш положительных ответов журнала.
type SeenCache interface {
	Seen(ctx context.Context, fingerprints []string) (map[string]bool, error)
	MarkSeen(ctx context.Context, fingerprints ...string) error
}

// CachedLedger проверяет кэш перед журналом и дописывает в кэш только после фиксации записи.
// Ошибки кэша не влияют на результат: запрос уходит в журнал.
type CachedLedger struct {
	backend Backend
	cache   SeenCache
	logger  *slog.Logger
}

// NewCachedLedger создаёт журнал с кэшем. cache может быть nil.
func NewCachedLedger(backend Backend, cache SeenCache, logger *slog.Logger) *CachedLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLedger{backend: backend, cache: cache, logger: logger}
}

// Contains сообщает, встречался ли отпечаток.
func (l *CachedLedger) Contains(ctx context.Context, fingerprint string) (bool, error) {
	seen, err := l.ContainsAny(ctx, []string{fingerprint})
	if err != nil {
		return false, err
	}
	return seen[fingerprint], nil
}

// ContainsAny возвращает отпечатки, уже присутствующие в журнале.
func (l *CachedLedger) ContainsAny(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	if l.cache == nil {
		return l.backend.ContainsAny(ctx, fingerprints)
	}

	cached, err := l.cache.Seen(ctx, fingerprints)
	if err != nil {
		l.logger.Warn("seen-cache lookup failed, falling back to ledger", "error", err)
		cached = nil
	}

	var missing []string
	for _, fp := range fingerprints {
		if !cached[fp] {
			missing = append(missing, fp)
		}
	}

	result := make(map[string]bool, len(fingerprints))
	for fp := range cached {
		result[fp] = true
	}
	if len(missing) == 0 {
		return result, nil
	}

	fromLedger, err := l.backend.ContainsAny(ctx, missing)
	if err != nil {
		return nil, err
	}
	warm := make([]string, 0, len(fromLedger))
	for fp := range fromLedger {
		result[fp] = true
		warm = append(warm, fp)
	}
	l.mark(ctx, warm...)
	return result, nil
}

// Record пишет решение в журнал, затем в кэш.
func (l *CachedLedger) Record(ctx context.Context, entry news.LedgerEntry) error {
	if err := l.backend.Record(ctx, entry); err != nil {
		return err
	}
	l.mark(ctx, entry.Fingerprint)
	return nil
}

// PersistOutcome атомарно сохраняет статью и решение, затем помечает отпечаток в кэше.
func (l *CachedLedger) PersistOutcome(ctx context.Context, article news.Article, entry news.LedgerEntry) error {
	if err := l.backend.PersistOutcome(ctx, article, entry); err != nil {
		return err
	}
	l.mark(ctx, entry.Fingerprint)
	return nil
}

func (l *CachedLedger) mark(ctx context.Context, fingerprints ...string) {
	if l.cache == nil || len(fingerprints) == 0 {
		return
	}
	if err := l.cache.MarkSeen(ctx, fingerprints...); err != nil {
		l.logger.Warn("seen-cache update failed", "error", err)
	}
}
