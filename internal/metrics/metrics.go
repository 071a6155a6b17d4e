package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maine/goodnews_feed/internal/news"
)

const namespace = "goodnews"

// Recorder собирает метрики циклов пайплайна в собственный registry.
type Recorder struct {
	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	articles      *prometheus.CounterVec
	judgeCalls    *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
}

// NewRecorder регистрирует метрики. withRuntime добавляет go_* и process_* коллекторы.
func NewRecorder(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pipeline cycles by final status.",
		}, []string{"status"}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles by cycle outcome.",
		}, []string{"outcome"}),
		judgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_calls_total",
			Help:      "Judge batch calls by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a pipeline cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last finished cycle.",
		}),
	}
	reg.MustRegister(r.cycles, r.articles, r.judgeCalls, r.cycleDuration, r.lastCycle)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// ObserveCycle фиксирует итог цикла.
func (r *Recorder) ObserveCycle(c news.Cycle) {
	r.cycles.WithLabelValues(string(c.Status)).Inc()
	add := func(outcome string, n int) {
		if n > 0 {
			r.articles.WithLabelValues(outcome).Add(float64(n))
		}
	}
	add("fetched", c.Counts.Fetched)
	add("invalid", c.Counts.Invalid)
	add("deduped", c.Counts.Deduped)
	add("accepted", c.Counts.Accepted)
	add("rejected", c.Counts.Rejected)
	add("errored", c.Counts.Errored)
	add("deferred", c.Counts.Deferred)
	add("failed_write", c.Counts.FailedWrites)

	if !c.FinishedAt.IsZero() {
		r.cycleDuration.Observe(c.FinishedAt.Sub(c.StartedAt).Seconds())
		r.lastCycle.Set(float64(c.FinishedAt.Unix()))
	}
}

// ObserveJudgeCall считает вызовы судьи: ok, rate_limited, malformed, error.
func (r *Recorder) ObserveJudgeCall(result string, _ time.Duration) {
	r.judgeCalls.WithLabelValues(result).Inc()
}

// Handler отдаёт /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
