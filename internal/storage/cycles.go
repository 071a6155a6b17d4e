package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/maine/goodnews_feed/internal/news"
)

var cycleColumns = []string{"id", "window_start", "window_end", "started_at", "finished_at", "status", "counts", "errors"}

// BeginCycle сохраняет запись о начавшемся цикле.
func (db *DB) BeginCycle(ctx context.Context, c news.Cycle) error {
	counts, errs, err := encodeCycle(c)
	if err != nil {
		return err
	}
	query, args, err := db.sb.Insert("cycles").Columns(cycleColumns...).Values(
		c.ID, toNanos(c.Window.Start), toNanos(c.Window.End), toNanos(c.StartedAt),
		toNanos(c.FinishedAt), string(c.Status), counts, errs,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// FinishCycle фиксирует итог цикла. Завершённый цикл больше не меняется.
func (db *DB) FinishCycle(ctx context.Context, c news.Cycle) error {
	counts, errs, err := encodeCycle(c)
	if err != nil {
		return err
	}
	query, args, err := db.sb.Update("cycles").
		Set("finished_at", toNanos(c.FinishedAt)).
		Set("status", string(c.Status)).
		Set("counts", counts).
		Set("errors", errs).
		Where(sq.Eq{"id": c.ID, "status": string(news.CycleRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cycle %s is not running: %w", c.ID, news.ErrNotFound)
	}
	return nil
}

// LastCompletedCycle возвращает последний успешно завершённый цикл.
func (db *DB) LastCompletedCycle(ctx context.Context) (news.Cycle, bool, error) {
	query, args, err := db.sb.Select(cycleColumns...).From("cycles").
		Where(sq.Eq{"status": string(news.CycleCompleted)}).
		OrderBy("window_end DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return news.Cycle{}, false, fmt.Errorf("build query: %w", err)
	}
	c, err := scanCycle(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return news.Cycle{}, false, nil
	}
	if err != nil {
		return news.Cycle{}, false, err
	}
	return c, true, nil
}

// RecentCycles возвращает последние циклы, начиная с самого нового.
func (db *DB) RecentCycles(ctx context.Context, limit int) ([]news.Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := db.sb.Select(cycleColumns...).From("cycles").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []news.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeCycle(c news.Cycle) (string, string, error) {
	counts, err := json.Marshal(c.Counts)
	if err != nil {
		return "", "", fmt.Errorf("marshal counts: %w", err)
	}
	errs := c.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return "", "", fmt.Errorf("marshal errors: %w", err)
	}
	return string(counts), string(errsJSON), nil
}

func scanCycle(row rowScanner) (news.Cycle, error) {
	var (
		c                              news.Cycle
		start, end, started, finished  int64
		status, countsJSON, errorsJSON string
	)
	if err := row.Scan(&c.ID, &start, &end, &started, &finished, &status, &countsJSON, &errorsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return news.Cycle{}, err
		}
		return news.Cycle{}, fmt.Errorf("scan cycle: %w", err)
	}
	c.Window = news.Window{Start: fromNanos(start), End: fromNanos(end)}
	c.StartedAt = fromNanos(started)
	c.FinishedAt = fromNanos(finished)
	c.Status = news.CycleStatus(status)
	if err := json.Unmarshal([]byte(countsJSON), &c.Counts); err != nil {
		return news.Cycle{}, fmt.Errorf("decode counts: %w", err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &c.Errors); err != nil {
		return news.Cycle{}, fmt.Errorf("decode errors: %w", err)
	}
	return c, nil
}
