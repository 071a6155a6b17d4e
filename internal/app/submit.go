package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maine/goodnews_feed/internal/news"
)

const maxSubmissionTitle = 300

// ErrInvalidSubmission: пустой заголовок или текст истории.
var ErrInvalidSubmission = errors.New("submission needs a title and a story")

// Moderator проверяет пользовательскую историю.
type Moderator interface {
	Moderate(ctx context.Context, title, story string) (news.SafetyVerdict, error)
}

// SubmissionStore сохраняет историю и, если она одобрена, статью ленты.
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, sub news.Submission) (news.Article, error)
}

// Submissions: приём историй от пользователей. Журнал цикла не затрагивается,
// кроме отпечатка одобренной истории.
type Submissions struct {
	moderator Moderator
	store     SubmissionStore
	clock     Clock
	logger    *slog.Logger
}

// NewSubmissions создаёт сервис приёма историй.
func NewSubmissions(moderator Moderator, store SubmissionStore, clock Clock, logger *slog.Logger) *Submissions {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submissions{moderator: moderator, store: store, clock: clock, logger: logger}
}

// Submit модерирует и сохраняет историю. Без решения модератора ничего не сохраняется.
func (s *Submissions) Submit(ctx context.Context, title, story string) (news.Submission, error) {
	title = strings.TrimSpace(title)
	story = strings.TrimSpace(story)
	if title == "" || story == "" {
		return news.Submission{}, ErrInvalidSubmission
	}
	if len([]rune(title)) > maxSubmissionTitle {
		return news.Submission{}, fmt.Errorf("%w: title longer than %d characters", ErrInvalidSubmission, maxSubmissionTitle)
	}

	verdict, err := s.moderator.Moderate(ctx, title, story)
	if err != nil {
		return news.Submission{}, fmt.Errorf("moderate: %w", err)
	}

	sub := news.Submission{
		ID:          uuid.NewString(),
		Title:       title,
		Story:       story,
		Approved:    verdict.Approved,
		Reason:      verdict.Reason,
		Fingerprint: news.SubmissionFingerprint(title, story),
		SubmittedAt: s.clock().UTC(),
	}
	if _, err := s.store.SaveSubmission(ctx, sub); err != nil {
		return news.Submission{}, fmt.Errorf("save submission: %w", err)
	}

	s.logger.Info("submission moderated", "id", sub.ID, "approved", sub.Approved, "reason", sub.Reason)
	return sub, nil
}
