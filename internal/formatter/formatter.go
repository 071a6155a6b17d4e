package formatter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

const (
	// telegramMaxMessageLength - максимальная длина сообщения в Telegram (4096 символов)
	telegramMaxMessageLength = 4096
	// headerTemplate - шаблон для нумерации сообщений
	headerTemplate = "Good news digest (%d/%d)\n\n"
	// headerReserve - место под заголовок нумерации
	headerReserve = 32
	ellipsis      = "..."
	maxSnippet    = 200
)

// categoryOrder задаёт порядок блоков в дайджесте.
var categoryOrder = []news.Category{
	news.CategoryHeartwarming,
	news.CategoryImprovement,
	news.CategoryCuteFun,
	news.CategoryUserSubmitted,
}

var categoryTitles = map[news.Category]string{
	news.CategoryHeartwarming:  "Heartwarming",
	news.CategoryImprovement:   "Improvement",
	news.CategoryCuteFun:       "Cute & fun",
	news.CategoryUserSubmitted: "From the community",
}

// Formatter превращает принятые статьи в Markdown-сообщения для Telegram.
type Formatter struct {
	maxMessages int
}

// NewFormatter создаёт новый экземпляр форматтера.
func NewFormatter(cfg config.Telegram) *Formatter {
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 5
	}
	return &Formatter{maxMessages: maxMessages}
}

// BuildMessages группирует статьи по категориям и разбивает на сообщения,
// не разрывая категорию без необходимости.
func (f *Formatter) BuildMessages(articles []news.Article) ([]string, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	byCategory := make(map[news.Category][]news.Article)
	for _, a := range articles {
		if !a.Category.Good() {
			continue
		}
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	blocks := make([]string, 0, len(byCategory))
	for _, category := range categoryOrder {
		items := byCategory[category]
		if len(items) == 0 {
			continue
		}
		blocks = append(blocks, formatBlock(category, items))
	}

	return f.split(blocks), nil
}

func formatBlock(category news.Category, items []news.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*\n", category.Emoji(), categoryTitles[category])
	for i, a := range items {
		sb.WriteString(formatEntry(a))
		if i < len(items)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// formatEntry: [Заголовок](URL): пояснение судьи или начало текста
func formatEntry(a news.Article) string {
	title := escapeMarkdown(a.Title)
	line := title
	if a.URL != "" {
		line = fmt.Sprintf("[%s](%s)", title, a.URL)
	}

	note := a.Rationale
	if note == "" {
		note = a.Body
	}
	note = strings.Join(strings.Fields(note), " ")
	if note == "" {
		return line
	}
	if runes := []rune(note); len(runes) > maxSnippet {
		note = string(runes[:maxSnippet]) + ellipsis
	}
	return line + ": " + escapeMarkdown(note)
}

// split раскладывает блоки по сообщениям. Блок, который не помещается целиком
// даже в пустое сообщение, режется построчно.
func (f *Formatter) split(blocks []string) []string {
	const limit = telegramMaxMessageLength - headerReserve
	const separator = "\n\n"

	var messages []string
	var current strings.Builder

	flush := func() bool {
		if current.Len() > 0 {
			messages = append(messages, strings.TrimSuffix(current.String(), "\n"))
			current.Reset()
		}
		return len(messages) < f.maxMessages
	}

	for _, block := range blocks {
		piece := block
		if current.Len() > 0 {
			piece = separator + block
		}
		if current.Len()+len(piece) <= limit {
			current.WriteString(piece)
			continue
		}
		if !flush() {
			return number(messages)
		}
		if len(block) <= limit {
			current.WriteString(block)
			continue
		}

		for _, line := range strings.Split(block, "\n") {
			if len(line) > limit {
				line = truncateBytes(line, limit-len(ellipsis)) + ellipsis
			}
			if current.Len()+len(line)+1 > limit && !flush() {
				return number(messages)
			}
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	flush()
	if len(messages) > f.maxMessages {
		messages = messages[:f.maxMessages]
	}
	return number(messages)
}

// number добавляет нумерацию, если сообщений больше одного.
func number(messages []string) []string {
	if len(messages) <= 1 {
		return messages
	}
	out := make([]string, 0, len(messages))
	for i, msg := range messages {
		out = append(out, fmt.Sprintf(headerTemplate, i+1, len(messages))+msg)
	}
	return out
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown экранирует спецсимволы legacy Markdown Telegram.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// FeedLine форматирует статью для вывода в терминал.
func FeedLine(a news.Article) string {
	date := "----------"
	if !a.PublishedAt.IsZero() {
		date = a.PublishedAt.UTC().Format("2006-01-02")
	}
	line := fmt.Sprintf("%s %s  %s  [%s] (%.2f)", a.Category.Emoji(), date, a.Title, a.Source, a.Sentiment)
	if a.URL != "" {
		line += "\n    " + a.URL
	}
	return line
}

// truncateBytes обрезает s до n байт, не разрывая руну.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
