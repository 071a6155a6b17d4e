package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maine/goodnews_feed/internal/news"
)

func TestWindowPolicy_Next(t *testing.T) {
	day := 24 * time.Hour
	cycleEndingAt := func(end time.Time) news.Cycle {
		return news.Cycle{Window: news.Window{Start: end.Add(-day), End: end}, Status: news.CycleCompleted}
	}

	tests := []struct {
		name      string
		policy    WindowPolicy
		last      news.Cycle
		ok        bool
		wantStart time.Time
	}{
		{name: "first cycle uses default lookback", wantStart: testNow.Add(-7 * day)},
		{name: "first cycle uses configured lookback", policy: WindowPolicy{InitialLookback: 2 * day}, wantStart: testNow.Add(-2 * day)},
		{name: "continues from last window end", last: cycleEndingAt(testNow.Add(-3 * time.Hour)), ok: true, wantStart: testNow.Add(-3 * time.Hour)},
		{
			name:      "widened to min lookback",
			policy:    WindowPolicy{MinLookback: 6 * time.Hour},
			last:      cycleEndingAt(testNow.Add(-time.Hour)),
			ok:        true,
			wantStart: testNow.Add(-6 * time.Hour),
		},
		{
			name:      "long downtime capped at initial lookback",
			policy:    WindowPolicy{InitialLookback: 2 * day},
			last:      cycleEndingAt(testNow.Add(-30 * day)),
			ok:        true,
			wantStart: testNow.Add(-2 * day),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.policy.Next(tt.last, tt.ok, testNow)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, testNow, w.End)
		})
	}
}
