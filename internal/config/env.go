package config

import (
	"fmt"
	"os"
)

// EnvConfig содержит токены и другие переменные окружения.
type EnvConfig struct {
	GeminiAPIKey     string
	NewsAPIKey       string
	TelegramBotToken string
	RedisPassword    string
	SkipJudge        bool // Не вызывать Gemini: кандидаты после фильтра откладываются
}

// LoadEnvConfig читает переменные окружения и возвращает конфигурацию.
// Обязательность переменных зависит от включённых модулей.
func LoadEnvConfig(root Root) (*EnvConfig, error) {
	env := &EnvConfig{
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		NewsAPIKey:       os.Getenv("NEWS_API_KEY"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		SkipJudge:        os.Getenv("SKIP_JUDGE") == "1",
	}

	if !env.SkipJudge && env.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required (or set SKIP_JUDGE=1)")
	}
	if root.Sources.NewsAPI.Enabled && env.NewsAPIKey == "" {
		return nil, fmt.Errorf("NEWS_API_KEY environment variable is required when sources.newsapi.enabled")
	}
	if root.Telegram.Enabled && env.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required when telegram.enabled")
	}

	return env, nil
}
