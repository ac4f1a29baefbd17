package batch

import (
	"time"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// ProgressFunc receives completion updates during a batch run: how many
// combinations finished out of how many total, and which symbol/parameter
// set completed most recently. Invoked at most once per completed
// combination, from the collecting goroutine.
type ProgressFunc func(completed, total int, symbol string, params domain.Params)

// progressReporter throttles callback invocations to at most one per
// minInterval for real-time consumers. Reaching the total always bypasses
// the throttle.
type progressReporter struct {
	fn          ProgressFunc
	minInterval time.Duration
	lastReport  time.Time

	suppressed bool
	completed  int
	total      int
	symbol     string
	params     domain.Params
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	// 100ms floor keeps consumers at 10 updates/sec max.
	return &progressReporter{fn: fn, minInterval: 100 * time.Millisecond}
}

func (pr *progressReporter) report(completed, total int, symbol string, params domain.Params) {
	if pr.fn == nil {
		return
	}
	now := time.Now()
	if now.Sub(pr.lastReport) < pr.minInterval && completed != total {
		pr.suppressed = true
		pr.completed, pr.total, pr.symbol, pr.params = completed, total, symbol, params
		return
	}
	pr.lastReport = now
	pr.suppressed = false
	pr.fn(completed, total, symbol, params)
}

// flush re-emits the newest suppressed report, so a consumer always sees the
// final state even when the run ends inside a throttle window.
func (pr *progressReporter) flush() {
	if pr.fn == nil || !pr.suppressed {
		return
	}
	pr.suppressed = false
	pr.fn(pr.completed, pr.total, pr.symbol, pr.params)
}
