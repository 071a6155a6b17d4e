package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maine/goodnews_feed/internal/news"
)

const maxSentHistory = 500

// ErrNoRecipients: дайджест собран, но отправлять некому.
var ErrNoRecipients = errors.New("no recipients registered; ask users to contact the bot")

// Formatter превращает принятые статьи в Markdown-сообщения.
type Formatter interface {
	BuildMessages(articles []news.Article) ([]string, error)
}

// Sender публикует подготовленные сообщения в Telegram.
type Sender interface {
	Send(ctx context.Context, recipients []news.RecipientBinding, messages []string) error
}

// RecipientResolver управляет списком получателей.
type RecipientResolver interface {
	Resolve(ctx context.Context, state news.State) (news.State, []news.RecipientBinding, error)
}

// StateStore хранит и обновляет файл состояния рассылки.
type StateStore interface {
	Load(ctx context.Context) (news.State, error)
	Save(ctx context.Context, state news.State) error
}

// DigestDeps перечисляет зависимости дайджеста.
type DigestDeps struct {
	Formatter  Formatter
	Sender     Sender
	Recipients RecipientResolver
	StateStore StateStore
	Clock      Clock
	Logger     *slog.Logger
}

// Digest реализует Notifier: отправляет новые принятые статьи получателям,
// каждую статью не больше одного раза.
type Digest struct {
	formatter  Formatter
	sender     Sender
	recipients RecipientResolver
	stateStore StateStore
	clock      Clock
	logger     *slog.Logger
}

// NewDigest создаёт дайджест.
func NewDigest(deps DigestDeps) *Digest {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Digest{
		formatter:  deps.Formatter,
		sender:     deps.Sender,
		recipients: deps.Recipients,
		stateStore: deps.StateStore,
		clock:      clock,
		logger:     logger,
	}
}

// Notify реализует Notifier.
func (d *Digest) Notify(ctx context.Context, articles []news.Article) error {
	if d.formatter == nil || d.sender == nil || d.stateStore == nil {
		return ErrNotConfigured
	}

	st, err := d.stateStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	recipients := st.Recipients
	if d.recipients != nil {
		st, recipients, err = d.recipients.Resolve(ctx, st)
		if err != nil {
			return fmt.Errorf("resolve recipients: %w", err)
		}
	}

	fresh := unsent(st, articles)
	if len(fresh) == 0 {
		return d.save(ctx, st)
	}

	messages, err := d.formatter.BuildMessages(fresh)
	if err != nil {
		return fmt.Errorf("build messages: %w", err)
	}
	if len(messages) == 0 {
		return d.save(ctx, st)
	}
	if len(recipients) == 0 {
		// offset getUpdates всё равно сохраняем
		if err := d.save(ctx, st); err != nil {
			return err
		}
		return ErrNoRecipients
	}

	if err := d.sender.Send(ctx, recipients, messages); err != nil {
		if saveErr := d.save(ctx, st); saveErr != nil {
			d.logger.Warn("failed to save state after send error", "error", saveErr)
		}
		return fmt.Errorf("send messages: %w", err)
	}
	d.logger.Info("digest delivered", "articles", len(fresh), "messages", len(messages), "recipients", len(recipients))

	return d.save(ctx, d.updateState(st, fresh))
}

func (d *Digest) save(ctx context.Context, st news.State) error {
	if err := d.stateStore.Save(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func unsent(st news.State, articles []news.Article) []news.Article {
	sent := make(map[string]struct{}, len(st.SentArticles))
	for _, item := range st.SentArticles {
		sent[item.Fingerprint] = struct{}{}
	}
	out := make([]news.Article, 0, len(articles))
	for _, a := range articles {
		if _, ok := sent[a.Fingerprint]; ok {
			continue
		}
		sent[a.Fingerprint] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (d *Digest) updateState(prev news.State, articles []news.Article) news.State {
	now := d.clock().UTC()
	prev.LastRun = now

	history := append([]news.StateArticle(nil), prev.SentArticles...)
	for _, a := range articles {
		history = append(history, news.StateArticle{Fingerprint: a.Fingerprint, SentAt: now})
	}
	if len(history) > maxSentHistory {
		history = history[len(history)-maxSentHistory:]
	}

	prev.SentArticles = history
	return prev
}
