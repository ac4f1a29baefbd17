package testing

import (
	"context"
	"sync"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// MockPriceProvider is a mock implementation of domain.PriceProvider for
// testing. Series are keyed by symbol; requests are clipped to the
// requested window like the real provider.
type MockPriceProvider struct {
	mu     sync.RWMutex
	series map[string][]domain.DailyBar
	err    error
	calls  int
}

// NewMockPriceProvider creates a new mock price provider.
func NewMockPriceProvider() *MockPriceProvider {
	return &MockPriceProvider{
		series: make(map[string][]domain.DailyBar),
	}
}

// SetSeries sets the bars to return for a symbol.
func (m *MockPriceProvider) SetSeries(symbol string, bars []domain.DailyBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = bars
}

// SetError sets the error to return.
func (m *MockPriceProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many times GetDailyBars was invoked.
func (m *MockPriceProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetDailyBars implements domain.PriceProvider.
func (m *MockPriceProvider) GetDailyBars(_ context.Context, symbol string, start, end domain.Date) ([]domain.DailyBar, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	bars := m.series[symbol]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}

	out := make([]domain.DailyBar, 0, len(bars))
	for _, b := range bars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, &domain.NotFoundError{Symbol: symbol}
	}
	return out, nil
}

// MockBetaProvider is a mock implementation of domain.BetaProvider for
// testing.
type MockBetaProvider struct {
	mu    sync.RWMutex
	betas map[string]float64
	err   error
}

// NewMockBetaProvider creates a new mock beta provider.
func NewMockBetaProvider() *MockBetaProvider {
	return &MockBetaProvider{betas: make(map[string]float64)}
}

// SetBeta sets the beta to return for a symbol.
func (m *MockBetaProvider) SetBeta(symbol string, beta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.betas[symbol] = beta
}

// SetError sets the error to return.
func (m *MockBetaProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetBeta implements domain.BetaProvider. Unknown symbols default to 1.0
// like the repository-backed implementation.
func (m *MockBetaProvider) GetBeta(_ context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	if beta, ok := m.betas[symbol]; ok {
		return beta, nil
	}
	return 1.0, nil
}

// Verify interface implementation
var _ domain.PriceProvider = (*MockPriceProvider)(nil)
var _ domain.BetaProvider = (*MockBetaProvider)(nil)
