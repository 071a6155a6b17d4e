package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

const maxStoryLength = 4000

// Moderator проверяет пользовательские истории перед публикацией.
type Moderator struct {
	client GeminiClient
	model  string
}

// NewModerator создаёт модератора. Если модель модерации не задана, берётся модель судьи.
func NewModerator(client GeminiClient, cfg config.Gemini) *Moderator {
	model := cfg.ModelModeration
	if model == "" {
		model = cfg.ModelJudge
	}
	return &Moderator{client: client, model: model}
}

// Moderate возвращает решение модели. Ошибка означает, что решения нет,
// и история не должна публиковаться.
func (m *Moderator) Moderate(ctx context.Context, title, story string) (news.SafetyVerdict, error) {
	prompt := fmt.Sprintf(moderationPrompt, strings.TrimSpace(title), truncateRunes(strings.TrimSpace(story), maxStoryLength))

	responseText, err := m.client.GenerateText(ctx, m.model, prompt)
	if err != nil {
		return news.SafetyVerdict{}, fmt.Errorf("moderate submission: %w", err)
	}

	var resp safetyResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		cleaned := extractJSON(responseText, '{', '}')
		if cleaned == "" {
			return news.SafetyVerdict{}, &news.MalformedResponseError{Raw: responseText, Err: err}
		}
		if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
			return news.SafetyVerdict{}, &news.MalformedResponseError{Raw: responseText, Err: err}
		}
	}
	if resp.IsSafeAndGood == nil {
		return news.SafetyVerdict{}, &news.MalformedResponseError{Raw: responseText, Err: fmt.Errorf("missing is_safe_and_good")}
	}

	return news.SafetyVerdict{
		Approved: *resp.IsSafeAndGood,
		Reason:   strings.TrimSpace(resp.Reason),
	}, nil
}

type safetyResponse struct {
	IsSafeAndGood *bool  `json:"is_safe_and_good"`
	Reason        string `json:"reason"`
}

const moderationPrompt = `You are a content moderator for a "Good News" website. Decide whether a user's submission is safe AND a genuinely positive, uplifting story.
- Set is_safe_and_good to true if the submission is both safe for a general audience and genuinely positive. It can be brief. Sarcasm, rants, advertisements and political complaining do not fit the spirit of the site.
- Otherwise set is_safe_and_good to false.
- The reason field briefly explains the decision, especially when the check fails.

Return ONLY a JSON object without markdown:
{"is_safe_and_good": true|false, "reason": "<one sentence>"}

Title: %s

Story: %s`
