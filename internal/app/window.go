package app

import (
	"time"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

// WindowPolicy задаёт окно следующего цикла по последнему завершённому.
type WindowPolicy struct {
	// InitialLookback: глубина первого окна и предел после долгого простоя.
	InitialLookback time.Duration
	// MinLookback: минимальная ширина окна.
	MinLookback time.Duration
}

// WindowPolicyFromConfig переносит настройки окна из конфига.
func WindowPolicyFromConfig(cfg config.Pipeline) WindowPolicy {
	return WindowPolicy{InitialLookback: cfg.InitialLookback, MinLookback: cfg.MinLookback}
}

// Next возвращает окно [start, now]. Без завершённых циклов start = now - InitialLookback,
// иначе окно начинается там, где закончилось последнее завершённое.
func (wp WindowPolicy) Next(last news.Cycle, ok bool, now time.Time) news.Window {
	now = now.UTC()
	initial := wp.InitialLookback
	if initial <= 0 {
		initial = 7 * 24 * time.Hour
	}
	if !ok {
		return news.Window{Start: now.Add(-initial), End: now}
	}

	start := last.Window.End.UTC()
	if wp.MinLookback > 0 && now.Sub(start) < wp.MinLookback {
		start = now.Add(-wp.MinLookback)
	}
	if now.Sub(start) > initial {
		start = now.Add(-initial)
	}
	return news.Window{Start: start, End: now}
}
