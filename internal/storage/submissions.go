package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/maine/goodnews_feed/internal/news"
)

// submissionCycleID помечает записи журнала, созданные не циклом, а модерацией.
const submissionCycleID = "submission"

// SaveSubmission сохраняет пользовательскую историю. Одобренная история
// в той же транзакции становится статьёй ленты с типом user_submitted.
func (db *DB) SaveSubmission(ctx context.Context, sub news.Submission) (news.Article, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return news.Article{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("submissions").
		Columns("id", "title", "story", "approved", "reason", "fingerprint", "submitted_at").
		Values(sub.ID, sub.Title, sub.Story, sub.Approved, sub.Reason, sub.Fingerprint, toNanos(sub.SubmittedAt)).
		ToSql()
	if err != nil {
		return news.Article{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return news.Article{}, fmt.Errorf("insert submission: %w", err)
	}

	var article news.Article
	if sub.Approved {
		article = news.Article{
			Fingerprint: sub.Fingerprint,
			Title:       sub.Title,
			Body:        sub.Story,
			Source:      "Community Submission",
			PublishedAt: sub.SubmittedAt,
			FetchedAt:   sub.SubmittedAt,
			Sentiment:   1,
			Category:    news.CategoryUserSubmitted,
			Disposition: news.DispositionAccepted,
			Rationale:   sub.Reason,
			AcceptedAt:  sub.SubmittedAt,
			SourceType:  news.SourceTypeUser,
			CycleID:     submissionCycleID,
		}
		inserted, err := recordTx(ctx, tx, news.LedgerEntry{
			Fingerprint: sub.Fingerprint,
			CycleID:     submissionCycleID,
			Disposition: news.DispositionAccepted,
			RecordedAt:  sub.SubmittedAt,
		})
		if err != nil {
			return news.Article{}, err
		}
		if inserted {
			if err := appendTx(ctx, tx, article); err != nil {
				return news.Article{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return news.Article{}, fmt.Errorf("commit: %w", err)
	}
	return article, nil
}

// SaveForSession добавляет статью в избранное сессии. Журнал не затрагивается.
func (db *DB) SaveForSession(ctx context.Context, sessionID, fingerprint string, at time.Time) error {
	if _, err := db.Get(ctx, fingerprint); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO saved_articles (session_id, fingerprint, saved_at) VALUES (?, ?, ?)`,
		sessionID, fingerprint, toNanos(at))
	if err != nil {
		return fmt.Errorf("insert saved article: %w", err)
	}
	return nil
}

// UnsaveForSession убирает статью из избранного сессии.
func (db *DB) UnsaveForSession(ctx context.Context, sessionID, fingerprint string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM saved_articles WHERE session_id = ? AND fingerprint = ?`, sessionID, fingerprint)
	if err != nil {
		return fmt.Errorf("delete saved article: %w", err)
	}
	return nil
}

// SavedForSession возвращает избранное сессии, последние сохранённые первыми.
func (db *DB) SavedForSession(ctx context.Context, sessionID string) ([]news.Article, error) {
	cols := make([]string, len(articleColumns))
	for i, c := range articleColumns {
		cols[i] = "a." + c
	}
	query, args, err := db.sb.Select(cols...).
		From("saved_articles s").
		Join("articles a ON a.fingerprint = s.fingerprint").
		Where(sq.Eq{"s.session_id": sessionID}).
		OrderBy("s.saved_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return db.queryArticles(ctx, query, args...)
}
