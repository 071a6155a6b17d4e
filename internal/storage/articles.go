package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/maine/goodnews_feed/internal/news"
)

const defaultFeedLimit = 50

var articleColumns = []string{
	"fingerprint", "title", "body", "source", "url", "published_at", "fetched_at",
	"sentiment", "category", "disposition", "reason", "rationale", "accepted_at",
	"source_type", "cycle_id",
}

// Contains сообщает, есть ли отпечаток в журнале.
func (db *DB) Contains(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM ledger WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return true, nil
}

// ContainsAny возвращает подмножество отпечатков, уже присутствующих в журнале.
func (db *DB) ContainsAny(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(fingerprints))
	const chunk = 500
	for start := 0; start < len(fingerprints); start += chunk {
		end := min(start+chunk, len(fingerprints))
		query, args, err := db.sb.Select("fingerprint").From("ledger").
			Where(sq.Eq{"fingerprint": fingerprints[start:end]}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build ledger query: %w", err)
		}
		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query ledger: %w", err)
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan ledger: %w", err)
			}
			seen[fp] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// Record записывает решение в журнал. Повторная запись того же решения ничего не меняет,
// попытка изменить решение возвращает *news.ConflictError.
func (db *DB) Record(ctx context.Context, entry news.LedgerEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := recordTx(ctx, tx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	return tx.Commit()
}

// recordTx возвращает false, если такое же решение уже было записано.
func recordTx(ctx context.Context, tx *sql.Tx, entry news.LedgerEntry) (bool, error) {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT disposition FROM ledger WHERE fingerprint = ?`, entry.Fingerprint).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("query ledger: %w", err)
	case news.Disposition(existing) == entry.Disposition:
		return false, nil
	default:
		return false, &news.ConflictError{
			Fingerprint: entry.Fingerprint,
			Existing:    news.Disposition(existing),
			Attempted:   entry.Disposition,
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger (fingerprint, cycle_id, disposition, reason, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Fingerprint, entry.CycleID, string(entry.Disposition), string(entry.Reason), toNanos(entry.RecordedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger: %w", err)
	}
	return true, nil
}

// Append добавляет статью. Повторная вставка того же отпечатка ничего не делает.
func (db *DB) Append(ctx context.Context, article news.Article) error {
	return appendTx(ctx, db.conn, article)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendTx(ctx context.Context, ex execer, a news.Article) error {
	sourceType := a.SourceType
	if sourceType == "" {
		sourceType = news.SourceTypeAI
	}
	query, args, err := sq.Insert("articles").Columns(articleColumns...).Values(
		a.Fingerprint, a.Title, a.Body, a.Source, a.URL, toNanos(a.PublishedAt), toNanos(a.FetchedAt),
		a.Sentiment, string(a.Category), string(a.Disposition), string(a.Reason), a.Rationale,
		toNanos(a.AcceptedAt), string(sourceType), a.CycleID,
	).Suffix("ON CONFLICT(fingerprint) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// PersistOutcome атомарно записывает статью и запись журнала.
// Конфликт решений возвращается как *news.ConflictError, прочие сбои как *news.PersistenceError.
func (db *DB) PersistOutcome(ctx context.Context, article news.Article, entry news.LedgerEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &news.PersistenceError{Fingerprint: article.Fingerprint, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback()

	inserted, err := recordTx(ctx, tx, entry)
	if err != nil {
		var conflict *news.ConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		return &news.PersistenceError{Fingerprint: article.Fingerprint, Err: err}
	}
	if !inserted {
		return nil
	}
	if err := appendTx(ctx, tx, article); err != nil {
		return &news.PersistenceError{Fingerprint: article.Fingerprint, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &news.PersistenceError{Fingerprint: article.Fingerprint, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// Get возвращает статью по отпечатку.
func (db *DB) Get(ctx context.Context, fingerprint string) (news.Article, error) {
	query, args, err := db.sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"fingerprint": fingerprint}).ToSql()
	if err != nil {
		return news.Article{}, fmt.Errorf("build query: %w", err)
	}
	a, err := scanArticle(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return news.Article{}, news.ErrNotFound
	}
	return a, err
}

// Query возвращает принятые статьи для ленты. Статьи с одинаковым заголовком
// (без учёта регистра) схлопываются до самой свежей.
func (db *DB) Query(ctx context.Context, q news.FeedQuery) ([]news.Article, error) {
	inner := db.sb.Select(articleColumns...).
		Column("ROW_NUMBER() OVER (PARTITION BY lower(title) ORDER BY published_at DESC) AS rn").
		From("articles").
		Where(sq.Eq{"disposition": string(news.DispositionAccepted)})
	if q.Category != "" {
		inner = inner.Where(sq.Eq{"category": string(q.Category)})
	}
	if q.SourceType != "" {
		inner = inner.Where(sq.Eq{"source_type": string(q.SourceType)})
	}

	order := "published_at DESC"
	if q.Sort == news.SortPositivity {
		order = "sentiment DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	query, args, err := db.sb.Select(articleColumns...).
		FromSelect(inner, "feed").
		Where("rn = 1").
		OrderBy(order, "fingerprint").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feed query: %w", err)
	}
	return db.queryArticles(ctx, query, args...)
}

// Prune удаляет статьи, полученные и опубликованные раньше cutoff, вместе с записями журнала.
// Сохранённые пользователями статьи тоже теряют ссылку.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c := toNanos(cutoff)
	res, err := tx.ExecContext(ctx,
		`DELETE FROM articles WHERE source_type = ? AND fetched_at < ? AND published_at < ?`,
		string(news.SourceTypeAI), c, c)
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ledger WHERE recorded_at < ? AND fingerprint NOT IN (SELECT fingerprint FROM articles)`, c); err != nil {
		return 0, fmt.Errorf("delete ledger entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM saved_articles WHERE fingerprint NOT IN (SELECT fingerprint FROM articles)`); err != nil {
		return 0, fmt.Errorf("delete saved articles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// Stats: размеры таблиц, используются в CLI и тестах.
type Stats struct {
	Articles int
	Accepted int
	Ledger   int
}

// Stats считает строки в основных таблицах.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM articles WHERE disposition = 'accepted'),
			(SELECT COUNT(*) FROM ledger)`).Scan(&s.Articles, &s.Accepted, &s.Ledger)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return s, nil
}

func (db *DB) queryArticles(ctx context.Context, query string, args ...any) ([]news.Article, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []news.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (news.Article, error) {
	var (
		a                                 news.Article
		published, fetched, accepted      int64
		category, disposition, reason, st string
	)
	err := row.Scan(&a.Fingerprint, &a.Title, &a.Body, &a.Source, &a.URL, &published, &fetched,
		&a.Sentiment, &category, &disposition, &reason, &a.Rationale, &accepted, &st, &a.CycleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return news.Article{}, err
		}
		return news.Article{}, fmt.Errorf("scan article: %w", err)
	}
	a.PublishedAt = fromNanos(published)
	a.FetchedAt = fromNanos(fetched)
	a.AcceptedAt = fromNanos(accepted)
	a.Category = news.Category(category)
	a.Disposition = news.Disposition(disposition)
	a.Reason = news.RejectReason(reason)
	a.SourceType = news.SourceType(st)
	return a, nil
}
