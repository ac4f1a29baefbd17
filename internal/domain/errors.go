package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports a parameter or input that fails validation. Runs
// abort before day 1.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NotFoundError reports that a provider has no data for a symbol.
type NotFoundError struct {
	Symbol string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no price data for symbol %s", e.Symbol)
}

// PartialRangeError reports that a provider could only cover part of the
// requested range. It carries the bars that were available; callers decide
// whether to proceed.
type PartialRangeError struct {
	Symbol         string
	RequestedStart Date
	RequestedEnd   Date
	AvailableStart Date
	AvailableEnd   Date
	Bars           []DailyBar
}

func (e *PartialRangeError) Error() string {
	return fmt.Sprintf("partial price data for %s: requested %s..%s, available %s..%s",
		e.Symbol, e.RequestedStart, e.RequestedEnd, e.AvailableStart, e.AvailableEnd)
}

// CapitalLeakError reports a violated portfolio capital invariant:
// deployed + cash drifted from total capital beyond the allowed epsilon.
// This is fatal and must never be silently corrected; the delta and day are
// the operator's diagnosis starting point.
type CapitalLeakError struct {
	Day     Date
	Delta   float64
	Cash    float64
	Deploy  float64
	Total   float64
	Symbols []string
}

func (e *CapitalLeakError) Error() string {
	return fmt.Sprintf("capital leak on %s: deployed %.2f + cash %.2f - total %.2f = %+.4f (symbols: %s)",
		e.Day, e.Deploy, e.Cash, e.Total, e.Delta, strings.Join(e.Symbols, ","))
}

// InternalInvariantError reports corrupted engine state: negative shares,
// non-monotonic dates, or an impossible state-machine transition. Fatal;
// Snapshot carries the offending state for diagnosis.
type InternalInvariantError struct {
	Detail   string
	Snapshot string
}

func (e *InternalInvariantError) Error() string {
	if e.Snapshot == "" {
		return fmt.Sprintf("internal invariant violated: %s", e.Detail)
	}
	return fmt.Sprintf("internal invariant violated: %s (state: %s)", e.Detail, e.Snapshot)
}
