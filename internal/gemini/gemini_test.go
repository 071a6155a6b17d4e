package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/logging"
	"github.com/maine/goodnews_feed/internal/news"
)

// mockGeminiClient - мок для тестирования Judge и Moderator
type mockGeminiClient struct {
	generateTextFunc func(ctx context.Context, model string, prompt string) (string, error)
}

func (m *mockGeminiClient) GenerateText(ctx context.Context, model string, prompt string) (string, error) {
	if m.generateTextFunc != nil {
		return m.generateTextFunc(ctx, model, prompt)
	}
	return "", errors.New("not implemented")
}

func respond(text string) *mockGeminiClient {
	return &mockGeminiClient{generateTextFunc: func(ctx context.Context, model, prompt string) (string, error) {
		return text, nil
	}}
}

var testGeminiCfg = config.Gemini{ModelJudge: "gemini-2.5-flash", RequestsPerMinute: 10, TokensPerMinute: 1000}

func testBatch() []news.Candidate {
	return []news.Candidate{
		{Fingerprint: "fp-1", Article: news.RawArticle{Title: "Otter plays piano", Body: "An otter played a tune."}},
		{Fingerprint: "fp-2", Article: news.RawArticle{Title: "Council meeting", Body: "Budget discussed."}},
		{Fingerprint: "fp-3", Article: news.RawArticle{Title: "Strangers rescue dog", Body: "A dog was rescued."}},
	}
}

func TestJudge_Judge(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     map[string]news.JudgeOutcome
	}{
		{
			name: "all verdicts",
			response: `[{"id":"fp-1","is_good_news":true,"category":"cute_or_fun","reason":"adorable"},
				{"id":"fp-2","is_good_news":false,"category":"none","reason":"neutral"},
				{"id":"fp-3","is_good_news":true,"category":"heartwarming","reason":"kindness"}]`,
			want: map[string]news.JudgeOutcome{
				"fp-1": {Kind: news.OutcomeVerdict, Verdict: news.Verdict{IsGood: true, Category: news.CategoryCuteFun, Rationale: "adorable"}},
				"fp-2": {Kind: news.OutcomeVerdict, Verdict: news.Verdict{IsGood: false, Category: news.CategoryNone, Rationale: "neutral"}},
				"fp-3": {Kind: news.OutcomeVerdict, Verdict: news.Verdict{IsGood: true, Category: news.CategoryHeartwarming, Rationale: "kindness"}},
			},
		},
		{
			name: "markdown wrapper and missing id",
			response: "Here you go:\n```json\n" +
				`[{"id":"fp-1","is_good_news":true,"category":"improvement","reason":"[progress]"}]` +
				"\n```",
			want: map[string]news.JudgeOutcome{
				"fp-1": {Kind: news.OutcomeVerdict, Verdict: news.Verdict{IsGood: true, Category: news.CategoryImprovement, Rationale: "[progress]"}},
			},
		},
		{
			name: "unknown category and inconsistent verdict are malformed",
			response: `[{"id":"fp-1","is_good_news":true,"category":"sports","reason":"x"},
				{"id":"fp-2","is_good_news":true,"category":"none","reason":"x"},
				{"id":"fp-3","category":"heartwarming"},
				{"id":"fp-9","is_good_news":true,"category":"heartwarming"}]`,
			want: map[string]news.JudgeOutcome{
				"fp-1": {Kind: news.OutcomeMalformed, Problem: `unknown category "sports"`},
				"fp-2": {Kind: news.OutcomeMalformed, Problem: "good news must have a category"},
				"fp-3": {Kind: news.OutcomeMalformed, Problem: "missing is_good_news"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJudge(respond(tt.response), testGeminiCfg, logging.Discard())
			got, err := j.Judge(context.Background(), testBatch())
			if err != nil {
				t.Fatalf("Judge() error = %v", err)
			}
			if len(got.Outcomes) != len(tt.want) {
				t.Fatalf("Judge() outcomes = %+v, want %d entries", got.Outcomes, len(tt.want))
			}
			for fp, want := range tt.want {
				if got.Outcomes[fp] != want {
					t.Errorf("outcome[%s] = %+v, want %+v", fp, got.Outcomes[fp], want)
				}
			}
			if got.TokensUsed <= 0 {
				t.Errorf("TokensUsed must be estimated")
			}
		})
	}
}

func TestJudge_PromptCarriesFingerprints(t *testing.T) {
	var gotModel, gotPrompt string
	client := &mockGeminiClient{generateTextFunc: func(ctx context.Context, model, prompt string) (string, error) {
		gotModel, gotPrompt = model, prompt
		return "[]", nil
	}}
	j := NewJudge(client, testGeminiCfg, logging.Discard())
	if _, err := j.Judge(context.Background(), testBatch()); err != nil {
		t.Fatalf("Judge() error = %v", err)
	}
	if gotModel != "gemini-2.5-flash" {
		t.Errorf("model = %q", gotModel)
	}
	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if !strings.Contains(gotPrompt, `"id":"`+fp+`"`) {
			t.Errorf("prompt must contain id %s", fp)
		}
	}
}

func TestJudge_Errors(t *testing.T) {
	rateLimited := &news.RateLimitedError{RetryAfter: 3 * time.Second, Err: errors.New("429")}
	j := NewJudge(&mockGeminiClient{generateTextFunc: func(ctx context.Context, model, prompt string) (string, error) {
		return "", rateLimited
	}}, testGeminiCfg, logging.Discard())

	_, err := j.Judge(context.Background(), testBatch())
	var rl *news.RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter != 3*time.Second {
		t.Errorf("rate limit error must pass through, got %v", err)
	}

	j = NewJudge(respond("I cannot classify these."), testGeminiCfg, logging.Discard())
	_, err = j.Judge(context.Background(), testBatch())
	var me *news.MalformedResponseError
	if !errors.As(err, &me) {
		t.Errorf("unparseable response must be MalformedResponseError, got %v", err)
	}
}

func TestJudge_BudgetAndEstimate(t *testing.T) {
	j := NewJudge(respond("[]"), testGeminiCfg, logging.Discard())
	if b := j.Budget(); b.RequestsPerMinute != 10 || b.TokensPerMinute != 1000 {
		t.Errorf("Budget() = %+v", b)
	}
	one := j.EstimateTokens(testBatch()[:1])
	three := j.EstimateTokens(testBatch())
	if one <= 0 || three <= one {
		t.Errorf("estimate must grow with batch: one=%d three=%d", one, three)
	}
}

func TestModerator_Moderate(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     news.SafetyVerdict
		wantErr  bool
	}{
		{
			name:     "approved",
			response: `{"is_safe_and_good": true, "reason": "kind neighbours"}`,
			want:     news.SafetyVerdict{Approved: true, Reason: "kind neighbours"},
		},
		{
			name:     "rejected in markdown",
			response: "```json\n{\"is_safe_and_good\": false, \"reason\": \"advertisement {promo}\"}\n```",
			want:     news.SafetyVerdict{Approved: false, Reason: "advertisement {promo}"},
		},
		{
			name:     "missing field",
			response: `{"reason": "?"}`,
			wantErr:  true,
		},
		{
			name:     "not json",
			response: "no idea",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModerator(respond(tt.response), config.Gemini{ModelJudge: "m"})
			got, err := m.Moderate(context.Background(), "Neighbours", "They shovelled snow for everyone.")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Moderate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Moderate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       string
		wantNil   bool
		wantRate  bool
		wantQuota bool
		wantDelay time.Duration
	}{
		{name: "rpm", err: `Error 429, RESOURCE_EXHAUSTED "retryDelay": "37s"`, wantRate: true, wantDelay: 37 * time.Second},
		{name: "rpd", err: "Error 429 quota GenerateRequestsPerDayPerProjectPerModel", wantRate: true, wantQuota: true},
		{name: "overloaded", err: "Error 503, model is overloaded", wantNil: true},
		{name: "bad gateway", err: "502 bad gateway", wantNil: true},
		{name: "other", err: "invalid argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(errors.New(tt.err))
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected temporary error, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected error")
			}
			var rl *news.RateLimitedError
			if errors.As(got, &rl) != tt.wantRate {
				t.Errorf("rate limited = %v, want %v", !tt.wantRate, tt.wantRate)
			}
			if errors.Is(got, news.ErrQuotaExhausted) != tt.wantQuota {
				t.Errorf("quota exhausted mismatch for %q", tt.err)
			}
			if tt.wantRate && rl.RetryAfter != tt.wantDelay {
				t.Errorf("RetryAfter = %v, want %v", rl.RetryAfter, tt.wantDelay)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: `[{"id":"1"}]`, want: `[{"id":"1"}]`},
		{name: "prose around", text: `Sure! [{"id":"1"}] Hope it helps`, want: `[{"id":"1"}]`},
		{name: "bracket inside string", text: `[{"reason":"a ] b"}]`, want: `[{"reason":"a ] b"}]`},
		{name: "no array", text: `nothing`, want: ""},
		{name: "unterminated", text: `[{"id":"1"}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.text, '[', ']'); got != tt.want {
				t.Errorf("extractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
