package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Root объединяет все конфигурационные блоки.
	Root struct {
		Pipeline Pipeline `yaml:"pipeline"`
		Gemini   Gemini   `yaml:"gemini"`
		Sources  Sources  `yaml:"sources"`
		Storage  Storage  `yaml:"storage"`
		Redis    Redis    `yaml:"redis"`
		Schedule Schedule `yaml:"schedule"`
		Telegram Telegram `yaml:"telegram"`
		Logging  Logging  `yaml:"logging"`
		Metrics  Metrics  `yaml:"metrics"`
	}

	// Pipeline описывает параметры цикла.
	Pipeline struct {
		MinPositiveProb     float64       `yaml:"min_positive_prob"`
		SentimentLexicon    string        `yaml:"sentiment_lexicon"`
		BatchSize           int           `yaml:"batch_size"`
		FetchConcurrency    int           `yaml:"fetch_concurrency"`
		JudgeConcurrency    int           `yaml:"judge_concurrency"`
		MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
		BatchRetries        int           `yaml:"batch_retries"`
		BaseBackoff         time.Duration `yaml:"base_backoff"`
		MaxBackoff          time.Duration `yaml:"max_backoff"`
		CallTimeout         time.Duration `yaml:"call_timeout"`
		InitialLookback     time.Duration `yaml:"initial_lookback"`
		MinLookback         time.Duration `yaml:"min_lookback"`
		MaxFutureSkew       time.Duration `yaml:"max_future_skew"`
		RetentionDays       int           `yaml:"retention_days"` // Не меньше initial_lookback плюс задержка NewsAPI
		MaxCandidates       int           `yaml:"max_candidates"` // Лимит статей, отправляемых судье за цикл
	}

	// Gemini содержит настройки моделей и заявленный бюджет.
	Gemini struct {
		ModelJudge        string `yaml:"model_judge"`
		ModelModeration   string `yaml:"model_moderation"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		TokensPerMinute   int    `yaml:"tokens_per_minute"`
	}

	// Sources описывает подключённые источники.
	Sources struct {
		RSS          []Feed        `yaml:"rss"`
		NewsAPI      NewsAPI       `yaml:"newsapi"`
		Enrich       bool          `yaml:"enrich"`
		EnrichMinLen int           `yaml:"enrich_min_len"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		MaxPerFeed   int           `yaml:"max_per_feed"`
	}

	// Feed: одна RSS-лента.
	Feed struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
	}

	// NewsAPI: настройки newsapi.org.
	NewsAPI struct {
		Enabled       bool          `yaml:"enabled"`
		BaseURL       string        `yaml:"base_url"`
		SourceIDs     []string      `yaml:"source_ids"`
		PageSize      int           `yaml:"page_size"`
		MaxPages      int           `yaml:"max_pages"`
		ProviderDelay time.Duration `yaml:"provider_delay"`
	}

	// Storage: путь к sqlite-базе.
	Storage struct {
		Path string `yaml:"path"`
	}

	// Redis: кэш просмотренных отпечатков перед журналом.
	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Addr      string        `yaml:"addr"`
		DB        int           `yaml:"db"`
		KeyPrefix string        `yaml:"key_prefix"`
		TTL       time.Duration `yaml:"ttl"`
	}

	// Schedule: cron-расписание режима serve.
	Schedule struct {
		Cron       string `yaml:"cron"`
		Timezone   string `yaml:"timezone"`
		RunOnStart bool   `yaml:"run_on_start"`
	}

	// Telegram: дайджест принятых новостей.
	Telegram struct {
		Enabled       bool     `yaml:"enabled"`
		ChatIDs       []string `yaml:"chat_ids"`
		AutoSubscribe bool     `yaml:"auto_subscribe"`
		StatePath     string   `yaml:"state_path"`
		MaxMessages   int      `yaml:"max_messages"`
	}

	// Logging задаёт уровень и формат логов.
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Metrics: адрес эндпоинта /metrics (пусто: не поднимать).
	Metrics struct {
		Addr string `yaml:"addr"`
	}
)

// DefaultNewsAPISources: крупные англоязычные издания.
var DefaultNewsAPISources = []string{
	"bbc-news", "abc-news", "associated-press", "reuters", "usa-today", "time",
	"national-geographic", "new-scientist", "techcrunch", "wired", "bloomberg",
	"axios", "espn", "nbc-news", "cbs-news", "independent", "newsweek", "abc-news-au",
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() Root {
	return Root{
		Pipeline: Pipeline{
			MinPositiveProb:     0.3,
			BatchSize:           10,
			FetchConcurrency:    4,
			JudgeConcurrency:    2,
			MaxRateLimitRetries: 3,
			BatchRetries:        1,
			BaseBackoff:         2 * time.Second,
			MaxBackoff:          time.Minute,
			CallTimeout:         60 * time.Second,
			InitialLookback:     7 * 24 * time.Hour,
			MinLookback:         5 * time.Minute,
			MaxFutureSkew:       time.Hour,
			RetentionDays:       8,
			MaxCandidates:       500,
		},
		Gemini: Gemini{
			ModelJudge:        "gemini-2.5-flash",
			ModelModeration:   "gemini-2.5-flash",
			RequestsPerMinute: 10,
			TokensPerMinute:   250000,
		},
		Sources: Sources{
			NewsAPI: NewsAPI{
				BaseURL:       "https://newsapi.org/v2",
				SourceIDs:     DefaultNewsAPISources,
				PageSize:      100,
				MaxPages:      5,
				ProviderDelay: 24 * time.Hour,
			},
			EnrichMinLen: 200,
			FetchTimeout: 15 * time.Second,
			MaxPerFeed:   100,
		},
		Storage: Storage{Path: "data/goodnews.db"},
		Redis: Redis{
			Addr:      "localhost:6379",
			KeyPrefix: "goodnews:seen:",
			TTL:       8 * 24 * time.Hour,
		},
		Schedule: Schedule{
			Cron:     "0 */1 * * *",
			Timezone: "UTC",
		},
		Telegram: Telegram{
			StatePath:   "state/digest.json",
			MaxMessages: 5,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// LoadRoot читает основной файл конфигурации поверх значений по умолчанию.
// Пустой path означает «только значения по умолчанию».
func LoadRoot(path string) (Root, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Root{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Root{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Root{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Root) {
	if v := strings.TrimSpace(os.Getenv("GOODNEWS_DB_PATH")); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("GOODNEWS_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate проверяет согласованность настроек.
func (r Root) Validate() error {
	var errs []error
	p := r.Pipeline
	if p.MinPositiveProb < 0 || p.MinPositiveProb > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_positive_prob must be in [0,1], got %v", p.MinPositiveProb))
	}
	if p.BatchSize <= 0 {
		errs = append(errs, errors.New("pipeline.batch_size must be positive"))
	}
	if p.FetchConcurrency <= 0 || p.JudgeConcurrency <= 0 {
		errs = append(errs, errors.New("pipeline concurrency limits must be positive"))
	}
	if p.MaxRateLimitRetries < 0 || p.BatchRetries < 0 {
		errs = append(errs, errors.New("pipeline retry counts must not be negative"))
	}
	if p.InitialLookback <= 0 || p.MinLookback <= 0 {
		errs = append(errs, errors.New("pipeline lookback windows must be positive"))
	}
	if reach := r.fetchReach(); p.RetentionDays > 0 && time.Duration(p.RetentionDays)*24*time.Hour < reach {
		errs = append(errs, fmt.Errorf("pipeline.retention_days must cover the fetch reach of %v, got %d days", reach, p.RetentionDays))
	}
	if r.Gemini.RequestsPerMinute <= 0 || r.Gemini.TokensPerMinute <= 0 {
		errs = append(errs, errors.New("gemini budget must be positive"))
	}
	if len(r.Sources.RSS) == 0 && !r.Sources.NewsAPI.Enabled {
		errs = append(errs, errors.New("no sources configured"))
	}
	for i, feed := range r.Sources.RSS {
		if feed.ID == "" || feed.URL == "" {
			errs = append(errs, fmt.Errorf("sources.rss[%d]: id and url are required", i))
		}
	}
	if r.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	return errors.Join(errs...)
}

// fetchReach: насколько далеко в прошлое может заглянуть выборка после простоя.
func (r Root) fetchReach() time.Duration {
	reach := r.Pipeline.InitialLookback
	if r.Sources.NewsAPI.Enabled {
		reach += r.Sources.NewsAPI.ProviderDelay
	}
	return reach
}
