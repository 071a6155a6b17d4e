package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maine/goodnews_feed/internal/news"
)

func TestRecorder_ObserveCycle(t *testing.T) {
	r := NewRecorder(false)
	start := time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC)

	r.ObserveCycle(news.Cycle{
		Status:     news.CycleCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		Counts:     news.CycleCounts{Fetched: 10, Accepted: 2, Rejected: 5},
	})
	r.ObserveCycle(news.Cycle{Status: news.CycleFailed})
	r.ObserveJudgeCall("ok", time.Second)
	r.ObserveJudgeCall("rate_limited", 0)
	r.ObserveJudgeCall("rate_limited", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.articles.WithLabelValues("accepted")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.articles.WithLabelValues("rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.judgeCalls.WithLabelValues("rate_limited")))
	assert.Equal(t, float64(start.Add(30*time.Second).Unix()), testutil.ToFloat64(r.lastCycle))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(false)
	r.ObserveCycle(news.Cycle{Status: news.CycleCompleted})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `goodnews_cycles_total{status="completed"} 1`))
}
