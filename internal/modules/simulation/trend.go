package simulation

import (
	"github.com/markcheno/go-talib"
)

// trend classifies one day's short-term direction for the directional gate.
type trend int8

const (
	trendFlat trend = iota
	trendUp
	trendDown
)

// computeTrends classifies every day of a close series against a simple
// moving average of the given window. A day is an uptrend when its close
// sits above the SMA and the SMA itself is rising; the mirror gives a
// downtrend. Days without enough history stay flat, so the directional
// gate never blocks early days.
func computeTrends(closes []float64, window int) []trend {
	out := make([]trend, len(closes))
	if window < 2 || len(closes) <= window {
		return out
	}

	sma := talib.Sma(closes, window)
	for i := window; i < len(closes); i++ {
		switch {
		case closes[i] > sma[i] && sma[i] > sma[i-1]:
			out[i] = trendUp
		case closes[i] < sma[i] && sma[i] < sma[i-1]:
			out[i] = trendDown
		}
	}
	return out
}
