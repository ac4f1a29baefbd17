package alphavantage

import "fmt"

// ErrRateLimitExceeded indicates the daily request budget is exhausted, or
// the API itself reported throttling.
type ErrRateLimitExceeded struct{}

func (e ErrRateLimitExceeded) Error() string {
	return "alpha vantage rate limit exceeded: daily request budget exhausted"
}

// ErrInvalidAPIKey indicates the client has no usable API key.
type ErrInvalidAPIKey struct{}

func (e ErrInvalidAPIKey) Error() string {
	return "alpha vantage API key is invalid or missing"
}

// ErrSymbolNotFound indicates the API returned no data for a symbol.
type ErrSymbolNotFound struct {
	Symbol string
}

func (e ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("symbol %s not found", e.Symbol)
}
