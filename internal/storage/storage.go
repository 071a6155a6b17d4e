package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// DB оборачивает соединение с sqlite и реализует хранилище статей, журнал и записи о циклах.
type DB struct {
	conn *sql.DB
	sb   sq.StatementBuilderType
}

// Open открывает (или создаёт) базу и применяет схему.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// Close закрывает соединение.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		fingerprint TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		published_at INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		sentiment REAL NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		disposition TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		rationale TEXT NOT NULL DEFAULT '',
		accepted_at INTEGER NOT NULL DEFAULT 0,
		source_type TEXT NOT NULL DEFAULT 'ai_generated',
		cycle_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_articles_feed ON articles(disposition, category, published_at);
	CREATE INDEX IF NOT EXISTS idx_articles_fetched_at ON articles(fetched_at);

	CREATE TABLE IF NOT EXISTS ledger (
		fingerprint TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		disposition TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		counts TEXT NOT NULL DEFAULT '{}',
		errors TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_status_end ON cycles(status, window_end);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		story TEXT NOT NULL,
		approved INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		submitted_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS saved_articles (
		session_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, fingerprint)
	);
	`
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

// Время хранится как unix-наносекунды в UTC: так корректно работают сравнения и сортировка.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
