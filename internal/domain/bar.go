package domain

import "fmt"

// DailyBar is one day of OHLC price data for a symbol.
type DailyBar struct {
	Date          Date    `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjustedClose"`
	Volume        int64   `json:"volume,omitempty"`
}

// Validate checks the bar's internal consistency: low <= open,close <= high
// and a positive adjusted close.
func (b DailyBar) Validate() error {
	if b.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "missing"}
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
		return &ValidationError{
			Field:   "ohlc",
			Message: fmt.Sprintf("inconsistent bar on %s: O=%.4f H=%.4f L=%.4f C=%.4f", b.Date, b.Open, b.High, b.Low, b.Close),
		}
	}
	if b.AdjustedClose <= 0 {
		return &ValidationError{
			Field:   "adjustedClose",
			Message: fmt.Sprintf("must be positive, got %.4f on %s", b.AdjustedClose, b.Date),
		}
	}
	return nil
}

// DecisionPrice returns the price the engine trades against for this bar:
// the close, or the adjusted close when configured.
func (b DailyBar) DecisionPrice(useAdjusted bool) float64 {
	if useAdjusted {
		return b.AdjustedClose
	}
	return b.Close
}

// Closes extracts the decision-price series from a bar slice.
func Closes(bars []DailyBar, useAdjusted bool) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.DecisionPrice(useAdjusted)
	}
	return out
}
