package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/filter"
	"github.com/maine/goodnews_feed/internal/news"
	"github.com/maine/goodnews_feed/internal/sentiment"
)

// ErrNotConfigured возвращается, когда пайплайн запущен без обязательных зависимостей.
var ErrNotConfigured = errors.New("pipeline dependencies not configured")

// Clock определяет источник времени (удобно подменять в тестах).
type Clock func() time.Time

// Fetcher отдаёт выборки источников за окно.
type Fetcher interface {
	Fetch(ctx context.Context, names []string, window news.Window) iter.Seq[news.SourceBatch]
}

// Normalizer приводит сырые записи к кандидатам с отпечатками.
type Normalizer interface {
	Normalize(articles []news.RawArticle) filter.Result
}

// Scorer оценивает позитивность статьи в [0,1].
type Scorer interface {
	Score(a news.RawArticle) float64
}

// Ledger: журнал отпечатков вместе с хранилищем статей.
type Ledger interface {
	ContainsAny(ctx context.Context, fingerprints []string) (map[string]bool, error)
	Record(ctx context.Context, entry news.LedgerEntry) error
	PersistOutcome(ctx context.Context, article news.Article, entry news.LedgerEntry) error
}

// CycleStore хранит записи о циклах.
type CycleStore interface {
	BeginCycle(ctx context.Context, c news.Cycle) error
	FinishCycle(ctx context.Context, c news.Cycle) error
	LastCompletedCycle(ctx context.Context) (news.Cycle, bool, error)
}

// Pruner удаляет статьи старше срока хранения.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Judge: дорогой классификатор. Свой бюджет он объявляет сам.
type Judge interface {
	Judge(ctx context.Context, batch []news.Candidate) (news.JudgeResponse, error)
	Budget() news.Budget
	EstimateTokens(batch []news.Candidate) int
}

// Notifier получает статьи, принятые в завершённом цикле.
type Notifier interface {
	Notify(ctx context.Context, articles []news.Article) error
}

// Metrics принимает итоги циклов и вызовов судьи.
type Metrics interface {
	ObserveCycle(c news.Cycle)
	ObserveJudgeCall(result string, d time.Duration)
}

// Settings: параметры цикла.
type Settings struct {
	Sources             []string // пусто: все источники
	MinPositiveProb     float64
	BatchSize           int
	JudgeConcurrency    int
	MaxRateLimitRetries int
	BatchRetries        int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	CallTimeout         time.Duration
	Retention           time.Duration // 0: не удалять
	MaxCandidates       int           // 0: без ограничения
}

// SettingsFromConfig переносит настройки из конфига.
func SettingsFromConfig(cfg config.Pipeline) Settings {
	return Settings{
		MinPositiveProb:     cfg.MinPositiveProb,
		BatchSize:           cfg.BatchSize,
		JudgeConcurrency:    cfg.JudgeConcurrency,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		BatchRetries:        cfg.BatchRetries,
		BaseBackoff:         cfg.BaseBackoff,
		MaxBackoff:          cfg.MaxBackoff,
		CallTimeout:         cfg.CallTimeout,
		Retention:           time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		MaxCandidates:       cfg.MaxCandidates,
	}
}

// PipelineDeps перечисляет зависимости пайплайна.
// Judge, Pruner, Notifier и Metrics опциональны: без судьи прошедшие фильтр кандидаты откладываются.
type PipelineDeps struct {
	Fetcher    Fetcher
	Normalizer Normalizer
	Scorer     Scorer
	Ledger     Ledger
	Cycles     CycleStore
	Judge      Judge
	Pruner     Pruner
	Notifier   Notifier
	Metrics    Metrics
	Window     WindowPolicy
	Settings   Settings
	Clock      Clock
	Logger     *slog.Logger
	NewID      func() string
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Pipeline выполняет циклы fetch → dedup → sentiment → judge → persist.
// Одновременно выполняется не больше одного цикла.
type Pipeline struct {
	fetcher    Fetcher
	normalizer Normalizer
	scorer     Scorer
	ledger     Ledger
	cycles     CycleStore
	judge      Judge
	pruner     Pruner
	notifier   Notifier
	metrics    Metrics
	window     WindowPolicy
	settings   Settings
	clock      Clock
	logger     *slog.Logger
	newID      func() string
	sleep      func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// NewPipeline создаёт новый экземпляр пайплайна.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		fetcher:    deps.Fetcher,
		normalizer: deps.Normalizer,
		scorer:     deps.Scorer,
		ledger:     deps.Ledger,
		cycles:     deps.Cycles,
		judge:      deps.Judge,
		pruner:     deps.Pruner,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		window:     deps.Window,
		settings:   deps.Settings,
		clock:      deps.Clock,
		logger:     deps.Logger,
		newID:      deps.NewID,
		sleep:      deps.Sleep,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.newID == nil {
		p.newID = func() string { return uuid.NewString() }
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	if p.settings.BatchSize <= 0 {
		p.settings.BatchSize = 10
	}
	if p.settings.JudgeConcurrency <= 0 {
		p.settings.JudgeConcurrency = 1
	}
	if p.settings.BaseBackoff <= 0 {
		p.settings.BaseBackoff = time.Second
	}
	if p.settings.MaxBackoff < p.settings.BaseBackoff {
		p.settings.MaxBackoff = p.settings.BaseBackoff
	}
	return p
}

// Run вычисляет окно по последнему завершённому циклу и выполняет цикл.
func (p *Pipeline) Run(ctx context.Context) (news.CycleResult, error) {
	if p.cycles == nil {
		return news.CycleResult{}, ErrNotConfigured
	}
	last, ok, err := p.cycles.LastCompletedCycle(ctx)
	if err != nil {
		return news.CycleResult{}, fmt.Errorf("load last cycle: %w", err)
	}
	return p.RunCycle(ctx, p.window.Next(last, ok, p.clock()))
}

// RunCycle выполняет один цикл над окном. Если цикл уже идёт, сразу
// возвращает news.ErrCycleInProgress.
func (p *Pipeline) RunCycle(ctx context.Context, window news.Window) (news.CycleResult, error) {
	if !p.mu.TryLock() {
		return news.CycleResult{}, news.ErrCycleInProgress
	}
	defer p.mu.Unlock()

	if err := p.validateDeps(); err != nil {
		return news.CycleResult{}, err
	}

	run := &cycleRun{
		cycle: news.Cycle{
			ID:        p.newID(),
			Window:    window,
			StartedAt: p.clock().UTC(),
			Status:    news.CycleRunning,
		},
	}
	logger := p.logger.With("cycle_id", run.cycle.ID)
	if err := p.cycles.BeginCycle(ctx, run.cycle); err != nil {
		return news.CycleResult{}, fmt.Errorf("begin cycle: %w", err)
	}
	logger.Info("cycle started", "window_start", window.Start, "window_end", window.End)

	runErr := p.execute(ctx, logger, run)

	switch {
	case runErr == nil:
		run.cycle.Status = news.CycleCompleted
	case ctx.Err() != nil:
		run.cycle.Status = news.CycleCanceled
		run.addError(runErr)
	default:
		run.cycle.Status = news.CycleFailed
		run.addError(runErr)
	}
	run.cycle.FinishedAt = p.clock().UTC()

	// запись о цикле сохраняем даже при отменённом контексте
	if err := p.cycles.FinishCycle(context.WithoutCancel(ctx), run.cycle); err != nil {
		logger.Error("failed to finalize cycle", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("finish cycle: %w", err)
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveCycle(run.cycle)
	}

	c := run.cycle.Counts
	logger.Info("cycle finished",
		"status", run.cycle.Status,
		"fetched", c.Fetched, "invalid", c.Invalid, "deduped", c.Deduped,
		"filtered", c.Filtered, "judged", c.Judged, "accepted", c.Accepted,
		"rejected", c.Rejected, "errored", c.Errored, "deferred", c.Deferred,
		"failed_writes", c.FailedWrites, "errors", len(run.cycle.Errors))

	if run.cycle.Status == news.CycleCompleted && p.notifier != nil && len(run.accepted) > 0 {
		if err := p.notifier.Notify(ctx, run.accepted); err != nil {
			logger.Warn("digest notification failed", "error", err)
		}
	}

	return run.result(), runErr
}

func (p *Pipeline) validateDeps() error {
	switch {
	case p.fetcher == nil,
		p.normalizer == nil,
		p.scorer == nil,
		p.ledger == nil,
		p.cycles == nil:
		return ErrNotConfigured
	default:
		return nil
	}
}

// cycleRun: изменяемое состояние одного цикла. Меняется только в горутине оркестратора.
type cycleRun struct {
	cycle    news.Cycle
	accepted []news.Article
	deferred []string
}

// markDeferred учитывает кандидатов, которые в этом цикле не попали к судье.
func (r *cycleRun) markDeferred(cands []news.Candidate) {
	r.cycle.Counts.Deferred += len(cands)
	for _, c := range cands {
		r.deferred = append(r.deferred, c.Fingerprint)
	}
}

func (r *cycleRun) addError(err error) {
	if err != nil {
		r.cycle.Errors = append(r.cycle.Errors, err.Error())
	}
}

func (r *cycleRun) result() news.CycleResult {
	return news.CycleResult{
		CycleID:              r.cycle.ID,
		Status:               r.cycle.Status,
		Accepted:             r.cycle.Counts.Accepted,
		Rejected:             r.cycle.Counts.Rejected,
		Errored:              r.cycle.Counts.Errored,
		Deferred:             r.cycle.Counts.Deferred,
		Counts:               r.cycle.Counts,
		Errors:               r.cycle.Errors,
		NewlyAccepted:        r.accepted,
		DeferredFingerprints: r.deferred,
	}
}

func (p *Pipeline) execute(ctx context.Context, logger *slog.Logger, run *cycleRun) error {
	counts := &run.cycle.Counts

	logger.Info("Step 1: fetching sources")
	raw, err := p.fetch(ctx, logger, run)
	if err != nil {
		return err
	}
	counts.Fetched = len(raw)

	p.prune(ctx, logger)

	normalized := p.normalizer.Normalize(raw)
	counts.Invalid = normalized.Invalid
	counts.Deduped = normalized.Duplicates

	logger.Info("Step 2: dedup pre-filter", "candidates", len(normalized.Candidates))
	candidates, err := p.dropSeen(ctx, normalized.Candidates)
	if err != nil {
		return err
	}
	counts.Deduped += len(normalized.Candidates) - len(candidates)

	logger.Info("Step 3: sentiment filter", "candidates", len(candidates))
	survivors, err := p.sentimentStage(ctx, logger, run, candidates)
	if err != nil {
		return err
	}

	if p.settings.MaxCandidates > 0 && len(survivors) > p.settings.MaxCandidates {
		run.markDeferred(survivors[p.settings.MaxCandidates:])
		survivors = survivors[:p.settings.MaxCandidates]
	}
	if p.judge == nil {
		logger.Warn("judge is not configured, deferring candidates", "count", len(survivors))
		run.markDeferred(survivors)
		return nil
	}

	logger.Info("Step 4: judging", "candidates", len(survivors))
	return p.judgeStage(ctx, logger, run, survivors)
}

// fetch собирает выборки. Сбой источника не фатален; если не ответил ни один, цикл прерывается.
func (p *Pipeline) fetch(ctx context.Context, logger *slog.Logger, run *cycleRun) ([]news.RawArticle, error) {
	var raw []news.RawArticle
	succeeded := 0
	for batch := range p.fetcher.Fetch(ctx, p.settings.Sources, run.cycle.Window) {
		if batch.Err != nil {
			logger.Warn("source failed", "source", batch.Source, "error", batch.Err)
			run.addError(batch.Err)
			continue
		}
		succeeded++
		raw = append(raw, batch.Articles...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if succeeded == 0 {
		return nil, news.ErrAllSourcesFailed
	}
	return raw, nil
}

func (p *Pipeline) prune(ctx context.Context, logger *slog.Logger) {
	if p.pruner == nil || p.settings.Retention <= 0 {
		return
	}
	cutoff := p.clock().UTC().Add(-p.settings.Retention)
	removed, err := p.pruner.Prune(ctx, cutoff)
	if err != nil {
		logger.Warn("prune failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("pruned old articles", "removed", removed, "cutoff", cutoff)
	}
}

// dropSeen убирает кандидатов, чей отпечаток уже есть в журнале, независимо от решения.
func (p *Pipeline) dropSeen(ctx context.Context, candidates []news.Candidate) ([]news.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	fps := make([]string, len(candidates))
	for i, c := range candidates {
		fps[i] = c.Fingerprint
	}
	seen, err := p.ledger.ContainsAny(ctx, fps)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}

	fresh := make([]news.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !seen[c.Fingerprint] {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

// sentimentStage оценивает кандидатов. Не прошедшие порог попадают в журнал
// как rejected/low_sentiment и к судье не отправляются.
func (p *Pipeline) sentimentStage(ctx context.Context, logger *slog.Logger, run *cycleRun, candidates []news.Candidate) ([]news.Candidate, error) {
	survivors := make([]news.Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Sentiment = p.scorer.Score(c.Article)
		if sentiment.Passes(c.Sentiment, p.settings.MinPositiveProb) {
			survivors = append(survivors, c)
			continue
		}

		entry := news.LedgerEntry{
			Fingerprint: c.Fingerprint,
			CycleID:     run.cycle.ID,
			Disposition: news.DispositionRejected,
			Reason:      news.ReasonLowSentiment,
			RecordedAt:  p.clock().UTC(),
		}
		if err := p.ledger.Record(ctx, entry); err != nil {
			if errors.Is(err, news.ErrLedgerConflict) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("failed to record low-sentiment rejection", "fingerprint", c.Fingerprint, "error", err)
			run.cycle.Counts.FailedWrites++
			run.addError(&news.PersistenceError{Fingerprint: c.Fingerprint, Err: err})
			continue
		}
		run.cycle.Counts.Filtered++
		run.cycle.Counts.Rejected++
	}
	return survivors, nil
}

// persistVerdicts записывает исходы одной пачки. Вызывается только из горутины оркестратора.
func (p *Pipeline) persistVerdicts(ctx context.Context, logger *slog.Logger, run *cycleRun, batch []news.Candidate, resp news.JudgeResponse) error {
	counts := &run.cycle.Counts
	for _, c := range batch {
		now := p.clock().UTC()
		article := news.Article{
			Fingerprint: c.Fingerprint,
			Title:       c.Article.Title,
			Body:        c.Article.Body,
			Source:      c.Article.Source,
			URL:         c.Article.URL,
			PublishedAt: c.Article.PublishedAt,
			FetchedAt:   run.cycle.StartedAt,
			Sentiment:   c.Sentiment,
			Category:    news.CategoryNone,
			Disposition: news.DispositionRejected,
			SourceType:  news.SourceTypeAI,
			CycleID:     run.cycle.ID,
		}

		outcome, ok := resp.Outcomes[c.Fingerprint]
		switch {
		case !ok:
			article.Reason = news.ReasonJudgeError
			article.Rationale = "no verdict returned"
		case outcome.Kind == news.OutcomeMalformed:
			article.Reason = news.ReasonJudgeError
			article.Rationale = outcome.Problem
		case outcome.Verdict.IsGood && outcome.Verdict.Category.Good():
			article.Disposition = news.DispositionAccepted
			article.Category = outcome.Verdict.Category
			article.Rationale = outcome.Verdict.Rationale
			article.AcceptedAt = now
		default:
			article.Reason = news.ReasonJudgeRejected
			article.Rationale = outcome.Verdict.Rationale
		}

		entry := news.LedgerEntry{
			Fingerprint: c.Fingerprint,
			CycleID:     run.cycle.ID,
			Disposition: article.Disposition,
			Reason:      article.Reason,
			RecordedAt:  now,
		}
		if err := p.ledger.PersistOutcome(ctx, article, entry); err != nil {
			if errors.Is(err, news.ErrLedgerConflict) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// статья не записана и будет рассмотрена в следующем цикле
			logger.Warn("failed to persist verdict", "fingerprint", c.Fingerprint, "error", err)
			counts.FailedWrites++
			run.addError(err)
			continue
		}

		counts.Judged++
		switch {
		case article.Disposition == news.DispositionAccepted:
			counts.Accepted++
			run.accepted = append(run.accepted, article)
		case article.Reason == news.ReasonJudgeError:
			counts.Errored++
		default:
			counts.Rejected++
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
