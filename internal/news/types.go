package news

import "time"

// Category описывает вердикт модели о характере хорошей новости.
type Category string

const (
	CategoryCuteFun       Category = "cute_or_fun"
	CategoryImprovement   Category = "improvement"
	CategoryHeartwarming  Category = "heartwarming"
	CategoryUserSubmitted Category = "user_submitted"
	// CategoryNone означает, что модель не нашла в новости ничего хорошего.
	CategoryNone Category = "none"
)

// ParseCategory принимает только категории, которые может вернуть судья.
// Неизвестные значения модели не принимаются.
func ParseCategory(value string) (Category, bool) {
	switch Category(value) {
	case CategoryCuteFun, CategoryImprovement, CategoryHeartwarming, CategoryNone:
		return Category(value), true
	default:
		return "", false
	}
}

// Good сообщает, является ли категория «хорошей» (не none).
func (c Category) Good() bool {
	switch c {
	case CategoryCuteFun, CategoryImprovement, CategoryHeartwarming, CategoryUserSubmitted:
		return true
	default:
		return false
	}
}

// Emoji используется при выводе ленты и в дайджесте.
func (c Category) Emoji() string {
	switch c {
	case CategoryCuteFun:
		return "🥳"
	case CategoryImprovement:
		return "🚀"
	case CategoryHeartwarming:
		return "❤️"
	case CategoryUserSubmitted:
		return "💌"
	default:
		return "🔹"
	}
}

// Disposition: итоговое решение по отпечатку в журнале.
type Disposition string

const (
	DispositionAccepted Disposition = "accepted"
	DispositionRejected Disposition = "rejected"
)

// RejectReason объясняет, почему статья отклонена.
type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonLowSentiment  RejectReason = "low_sentiment"
	ReasonJudgeRejected RejectReason = "judge_rejected"
	ReasonJudgeError    RejectReason = "judge_error"
)

// SourceType различает статьи из источников и присланные пользователями.
type SourceType string

const (
	SourceTypeAI   SourceType = "ai_generated"
	SourceTypeUser SourceType = "user_submitted"
)

// RawArticle описывает новость сразу после получения из источника.
type RawArticle struct {
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	URL         string            `json:"url"`
	PublishedAt time.Time         `json:"published_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SourceBatch: результат опроса одного источника. Err заполнен, если источник недоступен.
type SourceBatch struct {
	Source   string
	Articles []RawArticle
	Err      error
}

// Candidate: нормализованная статья с вычисленным отпечатком.
type Candidate struct {
	Fingerprint string
	Article     RawArticle
	Sentiment   float64
}

// Article: строка хранилища.
type Article struct {
	Fingerprint string       `json:"fingerprint"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Source      string       `json:"source"`
	URL         string       `json:"url"`
	PublishedAt time.Time    `json:"published_at"`
	FetchedAt   time.Time    `json:"fetched_at"`
	Sentiment   float64      `json:"sentiment"`
	Category    Category     `json:"category"`
	Disposition Disposition  `json:"disposition"`
	Reason      RejectReason `json:"reason,omitempty"`
	Rationale   string       `json:"rationale,omitempty"`
	AcceptedAt  time.Time    `json:"accepted_at,omitzero"`
	SourceType  SourceType   `json:"source_type"`
	CycleID     string       `json:"cycle_id,omitempty"`
}

// LedgerEntry фиксирует, что отпечаток уже обработан.
type LedgerEntry struct {
	Fingerprint string
	CycleID     string
	Disposition Disposition
	Reason      RejectReason
	RecordedAt  time.Time
}

// Verdict: разобранный ответ судьи по одной статье.
type Verdict struct {
	IsGood    bool
	Category  Category
	Rationale string
}

// OutcomeKind различает варианты ответа судьи.
type OutcomeKind int

const (
	OutcomeVerdict OutcomeKind = iota
	OutcomeMalformed
)

// JudgeOutcome: либо Verdict, либо Malformed с описанием проблемы.
type JudgeOutcome struct {
	Kind    OutcomeKind
	Verdict Verdict
	Problem string
}

// JudgeResponse содержит исходы по отпечаткам. Отсутствующий отпечаток считается Malformed.
type JudgeResponse struct {
	Outcomes   map[string]JudgeOutcome
	TokensUsed int
}

// Budget: заявленные лимиты судьи.
type Budget struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// Window: полуинтервал времени публикации, который опрашивает цикл.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CycleStatus: состояние записи о цикле.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
	CycleCanceled  CycleStatus = "canceled"
)

// CycleCounts: счётчики по этапам цикла.
type CycleCounts struct {
	Fetched      int `json:"fetched"`
	Invalid      int `json:"invalid"`
	Deduped      int `json:"deduped"`
	Filtered     int `json:"filtered"`
	Judged       int `json:"judged"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Errored      int `json:"errored"`
	Deferred     int `json:"deferred"`
	FailedWrites int `json:"failed_writes"`
}

// Cycle: итоговая запись об одном запуске пайплайна.
type Cycle struct {
	ID         string      `json:"id"`
	Window     Window      `json:"window"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
	Status     CycleStatus `json:"status"`
	Counts     CycleCounts `json:"counts"`
	Errors     []string    `json:"errors,omitempty"`
}

// CycleResult возвращается из RunCycle.
type CycleResult struct {
	CycleID  string
	Status   CycleStatus
	Accepted int
	Rejected int
	Errored  int
	Deferred int
	Counts   CycleCounts
	Errors   []string
	// NewlyAccepted: статьи, принятые в этом цикле (для дайджеста).
	NewlyAccepted []Article
	// DeferredFingerprints: кандидаты, не дошедшие до судьи; в журнал не попали.
	DeferredFingerprints []string
}

// SortOrder задаёт порядок ленты.
type SortOrder string

const (
	SortRecency    SortOrder = "recency"
	SortPositivity SortOrder = "positivity"
)

// FeedQuery: параметры выборки ленты.
type FeedQuery struct {
	Category   Category
	SourceType SourceType
	Sort       SortOrder
	Limit      int
}

// Submission: история, присланная пользователем.
type Submission struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Story       string    `json:"story"`
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason"`
	Fingerprint string    `json:"fingerprint"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SafetyVerdict: решение модерации по пользовательской истории.
type SafetyVerdict struct {
	Approved bool
	Reason   string
}

// State хранит состояние рассылки дайджеста.
type State struct {
	LastRun      time.Time          `json:"last_run"`
	SentArticles []StateArticle     `json:"sent_articles"`
	Recipients   []RecipientBinding `json:"recipients"`
	Telegram     TelegramState      `json:"telegram"`
}

// StateArticle: отпечаток статьи, уже попавшей в дайджест.
type StateArticle struct {
	Fingerprint string    `json:"fingerprint"`
	SentAt      time.Time `json:"sent_at"`
}

// RecipientBinding хранит известные чаты для рассылки.
type RecipientBinding struct {
	Name      string    `json:"name"`
	ChatID    string    `json:"chat_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TelegramState хранит служебную информацию для взаимодействия с Bot API.
type TelegramState struct {
	LastUpdateID int64 `json:"last_update_id"`
}
