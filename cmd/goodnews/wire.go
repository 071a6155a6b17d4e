package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maine/goodnews_feed/internal/app"
	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/dedup"
	"github.com/maine/goodnews_feed/internal/filter"
	"github.com/maine/goodnews_feed/internal/formatter"
	"github.com/maine/goodnews_feed/internal/gemini"
	"github.com/maine/goodnews_feed/internal/logging"
	"github.com/maine/goodnews_feed/internal/metrics"
	"github.com/maine/goodnews_feed/internal/sentiment"
	"github.com/maine/goodnews_feed/internal/sources"
	"github.com/maine/goodnews_feed/internal/state"
	"github.com/maine/goodnews_feed/internal/storage"
	"github.com/maine/goodnews_feed/internal/telegram"
)

// runtime держит общие ресурсы команды: конфиг, логгер и базу.
type runtime struct {
	cfg     config.Root
	logger  *slog.Logger
	db      *storage.DB
	metrics *metrics.Recorder
	closers []func() error
}

func openRuntime(configPath, logLevel string) (*runtime, error) {
	cfg, err := config.LoadRoot(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, db: db}
	rt.closers = append(rt.closers, db.Close)
	return rt, nil
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}

type pipelineOptions struct {
	sources     []string
	withRuntime bool
}

// pipeline собирает пайплайн со всеми включёнными в конфиге модулями.
func (rt *runtime) pipeline(ctx context.Context, opts pipelineOptions) (*app.Pipeline, error) {
	cfg := rt.cfg
	env, err := config.LoadEnvConfig(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Sources.FetchTimeout}
	collector := buildCollector(cfg, env, httpClient, rt.logger)

	lex, err := sentiment.LoadLexicon(cfg.Pipeline.SentimentLexicon)
	if err != nil {
		return nil, err
	}

	ledger, err := rt.ledger(ctx, env)
	if err != nil {
		return nil, err
	}

	var judge app.Judge
	if !env.SkipJudge {
		client, err := gemini.NewClient(ctx, env.GeminiAPIKey, rt.logger)
		if err != nil {
			return nil, err
		}
		judge = gemini.NewJudge(client, cfg.Gemini, rt.logger)
	} else {
		rt.logger.Warn("SKIP_JUDGE=1: candidates passing the sentiment filter are deferred")
	}

	var notifier app.Notifier
	if cfg.Telegram.Enabled {
		notifier = buildDigest(cfg, env, rt.logger)
	}

	rt.metrics = metrics.NewRecorder(opts.withRuntime)

	settings := app.SettingsFromConfig(cfg.Pipeline)
	settings.Sources = opts.sources

	return app.NewPipeline(app.PipelineDeps{
		Fetcher:    collector,
		Normalizer: filter.New(cfg.Pipeline, nil),
		Scorer:     sentiment.New(lex),
		Ledger:     ledger,
		Cycles:     rt.db,
		Judge:      judge,
		Pruner:     rt.db,
		Notifier:   notifier,
		Metrics:    rt.metrics,
		Window:     app.WindowPolicyFromConfig(cfg.Pipeline),
		Settings:   settings,
		Logger:     rt.logger,
	}), nil
}

// ledger оборачивает sqlite-журнал кэшем Redis, если он включён.
// Недоступный Redis не мешает работе: журнал используется напрямую.
func (rt *runtime) ledger(ctx context.Context, env *config.EnvConfig) (*dedup.CachedLedger, error) {
	rc := rt.cfg.Redis
	if !rc.Enabled {
		return dedup.NewCachedLedger(rt.db, nil, rt.logger), nil
	}
	cache, err := dedup.NewRedisCache(ctx, dedup.RedisConfig{
		Addr:      rc.Addr,
		Password:  env.RedisPassword,
		DB:        rc.DB,
		KeyPrefix: rc.KeyPrefix,
		TTL:       rc.TTL,
	})
	if err != nil {
		rt.logger.Warn("redis seen-cache unavailable, using ledger only", "addr", rc.Addr, "error", err)
		return dedup.NewCachedLedger(rt.db, nil, rt.logger), nil
	}
	rt.closers = append(rt.closers, cache.Close)
	return dedup.NewCachedLedger(rt.db, cache, rt.logger), nil
}

func buildCollector(cfg config.Root, env *config.EnvConfig, client *http.Client, logger *slog.Logger) *sources.Collector {
	var srcs []sources.Source
	for _, feed := range cfg.Sources.RSS {
		srcs = append(srcs, sources.NewRSSSource(feed, client, cfg.Sources.MaxPerFeed))
	}
	if cfg.Sources.NewsAPI.Enabled {
		srcs = append(srcs, sources.NewNewsAPISource(cfg.Sources.NewsAPI, env.NewsAPIKey, client, logger))
	}

	var enricher *sources.Enricher
	if cfg.Sources.Enrich {
		enricher = sources.NewEnricher(client, cfg.Sources.EnrichMinLen, logger)
	}
	return sources.NewCollector(srcs, cfg.Pipeline.FetchConcurrency, enricher, logger)
}

func buildDigest(cfg config.Root, env *config.EnvConfig, logger *slog.Logger) *app.Digest {
	tg := telegram.NewClient(env.TelegramBotToken, nil)
	return app.NewDigest(app.DigestDeps{
		Formatter:  formatter.NewFormatter(cfg.Telegram),
		Sender:     telegram.NewSender(tg, logger),
		Recipients: telegram.NewRecipientManager(tg, cfg.Telegram.ChatIDs, cfg.Telegram.AutoSubscribe),
		StateStore: state.NewFileStore(cfg.Telegram.StatePath, logger),
		Logger:     logger,
	})
}

// submissions собирает приём пользовательских историй. Модерация требует Gemini.
func (rt *runtime) submissions(ctx context.Context) (*app.Submissions, error) {
	env, err := config.LoadEnvConfig(rt.cfg)
	if err != nil {
		return nil, err
	}
	if env.SkipJudge || env.GeminiAPIKey == "" {
		return nil, fmt.Errorf("moderation requires GEMINI_API_KEY")
	}
	client, err := gemini.NewClient(ctx, env.GeminiAPIKey, rt.logger)
	if err != nil {
		return nil, err
	}
	return app.NewSubmissions(gemini.NewModerator(client, rt.cfg.Gemini), rt.db, nil, rt.logger), nil
}
