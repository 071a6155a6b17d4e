package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maine/goodnews_feed/internal/news"
)

var errRetryBudgetExhausted = errors.New("rate-limit retry budget exhausted")

// batchOutcome: итог одной пачки. Если deferred, судья ответа не дал,
// и кандидаты не попадают ни в журнал, ни в хранилище.
type batchOutcome struct {
	batch    []news.Candidate
	resp     news.JudgeResponse
	deferred bool
	err      error
}

// retryBudget: общий на цикл лимит повторов после rate limit.
type retryBudget struct {
	mu        sync.Mutex
	left      int
	used      int
	exhausted bool
}

// take возвращает номер повтора (с 1) или false, если бюджет исчерпан.
func (b *retryBudget) take() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted || b.left <= 0 {
		b.exhausted = true
		return 0, false
	}
	b.left--
	b.used++
	return b.used, true
}

func (b *retryBudget) exhaust() {
	b.mu.Lock()
	b.exhausted = true
	b.mu.Unlock()
}

func (b *retryBudget) isExhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

// budgetLimiter переводит объявленный бюджет судьи в ожидание перед запросом.
type budgetLimiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
	maxBurst int
}

func newBudgetLimiter(b news.Budget) *budgetLimiter {
	l := &budgetLimiter{
		requests: rate.NewLimiter(rate.Inf, 1),
		tokens:   rate.NewLimiter(rate.Inf, 1),
	}
	if b.RequestsPerMinute > 0 {
		l.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.RequestsPerMinute)), 1)
	}
	if b.TokensPerMinute > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(b.TokensPerMinute)/60), b.TokensPerMinute)
		l.maxBurst = b.TokensPerMinute
	}
	return l
}

func (l *budgetLimiter) wait(ctx context.Context, tokens int) error {
	if err := l.requests.Wait(ctx); err != nil {
		return err
	}
	if l.maxBurst > 0 {
		// пачка дороже минутного бюджета всё равно должна уйти
		return l.tokens.WaitN(ctx, max(1, min(tokens, l.maxBurst)))
	}
	return nil
}

// judgeStage отправляет пачки через ограниченный пул, а исходы записывает
// последовательно в горутине оркестратора.
func (p *Pipeline) judgeStage(ctx context.Context, logger *slog.Logger, run *cycleRun, candidates []news.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	batches := chunk(candidates, p.settings.BatchSize)
	limiter := newBudgetLimiter(p.judge.Budget())
	budget := &retryBudget{left: p.settings.MaxRateLimitRetries}

	judgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan batchOutcome)
	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(p.settings.JudgeConcurrency)
		for _, b := range batches {
			g.Go(func() error {
				results <- p.judgeBatch(judgeCtx, logger, b, limiter, budget)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var abort error
	for out := range results {
		if abort != nil {
			continue
		}
		if out.deferred {
			run.markDeferred(out.batch)
			if out.err != nil && !errors.Is(out.err, errRetryBudgetExhausted) && ctx.Err() == nil {
				run.addError(fmt.Errorf("judge batch deferred: %w", out.err))
			}
			continue
		}
		if err := p.persistVerdicts(ctx, logger, run, out.batch, out.resp); err != nil {
			abort = err
			cancel()
		}
	}

	if budget.isExhausted() {
		run.addError(fmt.Errorf("%w: %w", news.ErrJudgeRateLimited, errRetryBudgetExhausted))
	}
	if abort != nil {
		return abort
	}
	return ctx.Err()
}

// judgeBatch вызывает судью с повторами. Rate limit расходует общий бюджет цикла
// с экспоненциальной задержкой. Прочие ошибки повторяются BatchRetries раз.
func (p *Pipeline) judgeBatch(ctx context.Context, logger *slog.Logger, batch []news.Candidate, limiter *budgetLimiter, budget *retryBudget) batchOutcome {
	deferred := func(err error) batchOutcome {
		return batchOutcome{batch: batch, deferred: true, err: err}
	}
	transientLeft := p.settings.BatchRetries

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return deferred(err)
		}
		if budget.isExhausted() {
			return deferred(errRetryBudgetExhausted)
		}
		if err := limiter.wait(ctx, p.judge.EstimateTokens(batch)); err != nil {
			return deferred(err)
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.settings.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.settings.CallTimeout)
		}
		started := p.clock()
		resp, err := p.judge.Judge(callCtx, batch)
		cancel()
		elapsed := p.clock().Sub(started)

		if err == nil {
			p.observeJudge("ok", elapsed)
			return batchOutcome{batch: batch, resp: resp}
		}

		var rateLimited *news.RateLimitedError
		var malformed *news.MalformedResponseError
		switch {
		case errors.Is(err, news.ErrQuotaExhausted):
			p.observeJudge("rate_limited", elapsed)
			logger.Warn("judge quota exhausted, deferring remaining candidates", "error", err)
			budget.exhaust()
			return deferred(errRetryBudgetExhausted)

		case errors.As(err, &rateLimited):
			p.observeJudge("rate_limited", elapsed)
			n, ok := budget.take()
			if !ok {
				logger.Warn("rate-limit retries exhausted, deferring batch", "batch_size", len(batch))
				return deferred(errRetryBudgetExhausted)
			}
			delay := p.backoff(n, rateLimited.RetryAfter)
			logger.Warn("judge rate limited, backing off", "retry", n, "delay", delay)
			if err := p.sleep(ctx, delay); err != nil {
				return deferred(err)
			}

		case errors.As(err, &malformed):
			// ответ получен, но не разобран: каждая статья пачки считается judge_error
			p.observeJudge("malformed", elapsed)
			logger.Warn("judge response malformed", "error", err)
			return batchOutcome{batch: batch, resp: malformedResponse(batch, malformed)}

		default:
			p.observeJudge("error", elapsed)
			if transientLeft <= 0 || ctx.Err() != nil {
				logger.Warn("judge batch failed, deferring", "attempts", attempt, "error", err)
				return deferred(err)
			}
			transientLeft--
			delay := p.backoff(attempt, 0)
			logger.Warn("judge batch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			if err := p.sleep(ctx, delay); err != nil {
				return deferred(err)
			}
		}
	}
}

// backoff: base * 2^(n-1), не больше MaxBackoff; подсказка провайдера важнее, если она длиннее.
func (p *Pipeline) backoff(n int, hint time.Duration) time.Duration {
	delay := p.settings.BaseBackoff
	for i := 1; i < n && delay < p.settings.MaxBackoff; i++ {
		delay *= 2
	}
	delay = min(delay, p.settings.MaxBackoff)
	return max(delay, hint)
}

func (p *Pipeline) observeJudge(result string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveJudgeCall(result, d)
	}
}

func malformedResponse(batch []news.Candidate, err *news.MalformedResponseError) news.JudgeResponse {
	outcomes := make(map[string]news.JudgeOutcome, len(batch))
	for _, c := range batch {
		outcomes[c.Fingerprint] = news.JudgeOutcome{Kind: news.OutcomeMalformed, Problem: err.Error()}
	}
	return news.JudgeResponse{Outcomes: outcomes}
}

func chunk(items []news.Candidate, size int) [][]news.Candidate {
	var out [][]news.Candidate
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
