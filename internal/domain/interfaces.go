package domain

import "context"

// PriceProvider supplies ordered daily bars for a symbol. Implementations
// may be backed by a database, files, or a remote service; the engines cache
// nothing and rely on the provider being pure for the duration of a run.
//
// Errors: *NotFoundError when the symbol has no data at all;
// *PartialRangeError when only part of the requested range is covered (the
// error carries the available bars).
type PriceProvider interface {
	GetDailyBars(ctx context.Context, symbol string, start, end Date) ([]DailyBar, error)
}

// BetaProvider supplies a beta scalar per symbol for callers that implement
// beta-scaled parameter overrides. The engines do not interpret beta; they
// only consume the per-symbol overrides derived from it.
type BetaProvider interface {
	GetBeta(ctx context.Context, symbol string) (float64, error)
}
