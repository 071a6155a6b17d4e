package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

const (
	maxJudgeContent = 1500

	// грубая оценка: ~4 символа на токен плюс ответ по каждой статье
	charsPerToken       = 4
	outputTokensPerItem = 60
)

// Judge реализует app.Judge: одна пачка кандидатов: один запрос к Gemini.
// Лимиты не соблюдаются внутри, за это отвечает пайплайн по Budget().
type Judge struct {
	client GeminiClient
	model  string
	budget news.Budget
	logger *slog.Logger
}

// NewJudge создаёт судью.
func NewJudge(client GeminiClient, cfg config.Gemini, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{
		client: client,
		model:  cfg.ModelJudge,
		budget: news.Budget{
			RequestsPerMinute: cfg.RequestsPerMinute,
			TokensPerMinute:   cfg.TokensPerMinute,
		},
		logger: logger,
	}
}

// Budget возвращает заявленные лимиты провайдера.
func (j *Judge) Budget() news.Budget { return j.budget }

// EstimateTokens оценивает стоимость запроса по пачке до отправки.
func (j *Judge) EstimateTokens(batch []news.Candidate) int {
	chars := len(judgePromptHeader)
	for _, c := range batch {
		chars += len(c.Fingerprint) + len(c.Article.Title) + len(truncateRunes(c.Article.Body, maxJudgeContent)) + 40
	}
	return chars/charsPerToken + outputTokensPerItem*len(batch)
}

// Judge отправляет пачку и возвращает исход по каждому отпечатку.
// Ошибки клиента (*news.RateLimitedError и прочие) возвращаются как есть.
// Ответ, который не удалось разобрать целиком, даёт *news.MalformedResponseError.
func (j *Judge) Judge(ctx context.Context, batch []news.Candidate) (news.JudgeResponse, error) {
	if len(batch) == 0 {
		return news.JudgeResponse{Outcomes: map[string]news.JudgeOutcome{}}, nil
	}

	inputData := make([]articleInput, 0, len(batch))
	for _, c := range batch {
		inputData = append(inputData, articleInput{
			ID:      c.Fingerprint,
			Title:   c.Article.Title,
			Content: truncateRunes(c.Article.Body, maxJudgeContent),
		})
	}
	inputJSON, err := json.Marshal(inputData)
	if err != nil {
		return news.JudgeResponse{}, fmt.Errorf("marshal input: %w", err)
	}

	prompt := judgePromptHeader + string(inputJSON)
	responseText, err := j.client.GenerateText(ctx, j.model, prompt)
	if err != nil {
		return news.JudgeResponse{}, err
	}

	verdicts, err := parseVerdicts(responseText)
	if err != nil {
		return news.JudgeResponse{}, err
	}

	outcomes := make(map[string]news.JudgeOutcome, len(batch))
	expected := make(map[string]struct{}, len(batch))
	for _, c := range batch {
		expected[c.Fingerprint] = struct{}{}
	}
	for _, v := range verdicts {
		if _, ok := expected[v.ID]; !ok {
			j.logger.Debug("judge returned unknown id", "id", v.ID)
			continue
		}
		if _, dup := outcomes[v.ID]; dup {
			continue
		}
		outcomes[v.ID] = v.outcome()
	}

	return news.JudgeResponse{
		Outcomes:   outcomes,
		TokensUsed: j.EstimateTokens(batch),
	}, nil
}

func parseVerdicts(text string) ([]verdictResponse, error) {
	var verdicts []verdictResponse
	if err := json.Unmarshal([]byte(text), &verdicts); err == nil {
		return verdicts, nil
	}

	// Пытаемся извлечь JSON из текста, если модель добавила лишнее
	cleaned := extractJSON(text, '[', ']')
	if cleaned == "" {
		return nil, &news.MalformedResponseError{Raw: text, Err: fmt.Errorf("no JSON array in response")}
	}
	if err := json.Unmarshal([]byte(cleaned), &verdicts); err != nil {
		return nil, &news.MalformedResponseError{Raw: text, Err: fmt.Errorf("unmarshal cleaned response: %w", err)}
	}
	return verdicts, nil
}

type articleInput struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type verdictResponse struct {
	ID         string `json:"id"`
	IsGoodNews *bool  `json:"is_good_news"`
	Category   string `json:"category"`
	Reason     string `json:"reason"`
}

func (v verdictResponse) outcome() news.JudgeOutcome {
	if v.IsGoodNews == nil {
		return malformed("missing is_good_news")
	}
	category, ok := news.ParseCategory(strings.ToLower(strings.TrimSpace(v.Category)))
	if !ok {
		return malformed(fmt.Sprintf("unknown category %q", v.Category))
	}
	if *v.IsGoodNews && category == news.CategoryNone {
		return malformed("good news must have a category")
	}
	if !*v.IsGoodNews {
		category = news.CategoryNone
	}
	return news.JudgeOutcome{
		Kind: news.OutcomeVerdict,
		Verdict: news.Verdict{
			IsGood:    *v.IsGoodNews,
			Category:  category,
			Rationale: strings.TrimSpace(v.Reason),
		},
	}
}

func malformed(problem string) news.JudgeOutcome {
	return news.JudgeOutcome{Kind: news.OutcomeMalformed, Problem: problem}
}

const judgePromptHeader = `You are a news classification expert. Classify each article below by the following criteria for "good news".

Classification guide:
- "cute_or_fun": genuinely lighthearted, amusing, adorable or delightfully silly items (an otter playing piano, a harmless viral meme). Lifestyle trends, celebrity outfits, brand promo and listicles that read like ads do not count.
- "improvement": clear, evidence-based progress that benefits society, the planet or knowledge (a peer-reviewed medical breakthrough, a major poverty drop, a verified clean-energy milestone). Product marketing and one-off luxury launches do not count.
- "heartwarming": authentic acts of kindness, courage, inclusion or community generosity (strangers rescue a dog, a huge donation saves a library). General tips and tricks do not count.
- "none": the article is neutral, political, tragic or fits none of the above. is_good_news must be false when the category is "none".

Return ONLY a valid JSON array with one object per input article, without markdown and without comments.
Format (raw JSON):
[{"id": "<article id>", "is_good_news": true|false, "category": "cute_or_fun|improvement|heartwarming|none", "reason": "<one sentence>"}, ...]

Input:
`
