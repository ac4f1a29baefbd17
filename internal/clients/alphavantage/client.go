// Package alphavantage provides a client for the Alpha Vantage market data
// API. The free tier allows 25 requests per day, so the client enforces a
// daily budget and caches responses in memory with per-category TTLs.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

const (
	baseURL        = "https://www.alphavantage.co/query"
	requestTimeout = 30 * time.Second

	// defaultDailyBudget is the free-tier request allowance.
	defaultDailyBudget = 25
)

// ClientInterface defines the operations the rest of the system consumes.
// prices.SyncService depends on the daily series method only.
type ClientInterface interface {
	GetDailyTimeSeries(ctx context.Context, symbol string, full bool) ([]domain.DailyBar, error)
	GetGlobalQuote(ctx context.Context, symbol string) (*GlobalQuote, error)
	GetRemainingRequests() int
	ResetDailyCounter()
}

// GlobalQuote is the latest quote for a symbol.
type GlobalQuote struct {
	Symbol           string      `json:"symbol"`
	Open             float64     `json:"open"`
	High             float64     `json:"high"`
	Low              float64     `json:"low"`
	Price            float64     `json:"price"`
	Volume           int64       `json:"volume"`
	LatestTradingDay domain.Date `json:"latestTradingDay"`
	PreviousClose    float64     `json:"previousClose"`
	Change           float64     `json:"change"`
	ChangePercent    float64     `json:"changePercent"`
}

// CacheTTL configures how long each response category stays cached.
type CacheTTL struct {
	DailySeries time.Duration
	Quote       time.Duration
}

// DefaultCacheTTL returns the standard TTL configuration.
func DefaultCacheTTL() CacheTTL {
	return CacheTTL{
		DailySeries: 15 * time.Minute,
		Quote:       15 * time.Minute,
	}
}

// cacheEntry is one cached API response.
type cacheEntry struct {
	data      any
	expiresAt time.Time
}

// Client is an Alpha Vantage API client with daily rate limiting and
// response caching. Safe for concurrent use.
type Client struct {
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	cacheTTL CacheTTL

	mu           sync.Mutex
	dailyBudget  int
	requestsUsed int
	resetAt      time.Time

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates an Alpha Vantage client with the default daily budget.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: requestTimeout},
		log:         log.With().Str("client", "alphavantage").Logger(),
		cacheTTL:    DefaultCacheTTL(),
		dailyBudget: defaultDailyBudget,
		resetAt:     nextMidnightUTC(),
		cache:       make(map[string]cacheEntry),
	}
}

// SetDailyBudget overrides the per-day request allowance (paid tiers).
func (c *Client) SetDailyBudget(budget int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if budget > 0 {
		c.dailyBudget = budget
	}
}

// SetCacheTTL overrides the response cache TTLs.
func (c *Client) SetCacheTTL(ttl CacheTTL) {
	c.cacheTTL = ttl
}

// GetRemainingRequests returns how many requests are left in today's budget.
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.dailyBudget - c.requestsUsed
}

// ResetDailyCounter resets the request counter. Invoked by the midnight
// cron job; also happens lazily when the clock passes the reset time.
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsUsed = 0
	c.resetAt = nextMidnightUTC()
	c.log.Info().Int("budget", c.dailyBudget).Msg("Daily request counter reset")
}

// checkRateLimit consumes one request from the budget, or returns
// ErrRateLimitExceeded when the budget is exhausted.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rolloverLocked()

	if c.requestsUsed >= c.dailyBudget {
		return ErrRateLimitExceeded{}
	}
	c.requestsUsed++
	return nil
}

// rolloverLocked applies the midnight reset if it has passed. Caller holds mu.
func (c *Client) rolloverLocked() {
	if time.Now().UTC().After(c.resetAt) {
		c.requestsUsed = 0
		c.resetAt = nextMidnightUTC()
	}
}

// nextMidnightUTC returns the next UTC midnight.
func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// GetDailyTimeSeries fetches the daily bar series for a symbol, sorted by
// date ascending. full requests the complete history (20+ years); otherwise
// the compact window (latest 100 trading days) is fetched, which is enough
// for incremental syncs.
func (c *Client) GetDailyTimeSeries(ctx context.Context, symbol string, full bool) ([]domain.DailyBar, error) {
	outputSize := "compact"
	if full {
		outputSize = "full"
	}

	params := map[string]string{
		"symbol":     symbol,
		"outputsize": outputSize,
	}

	cacheKey := buildCacheKey("TIME_SERIES_DAILY_ADJUSTED", params)
	if cached, ok := c.getFromCache(cacheKey); ok {
		if bars, ok := cached.([]domain.DailyBar); ok {
			c.log.Debug().Str("symbol", symbol).Msg("Daily series served from cache")
			return bars, nil
		}
	}

	body, err := c.doRequest(ctx, "TIME_SERIES_DAILY_ADJUSTED", params)
	if err != nil {
		return nil, err
	}

	bars, err := parseDailyTimeSeries(body)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, ErrSymbolNotFound{Symbol: symbol}
	}

	c.setCache(cacheKey, bars, c.cacheTTL.DailySeries)

	c.log.Info().
		Str("symbol", symbol).
		Str("outputsize", outputSize).
		Int("bars", len(bars)).
		Msg("Daily series fetched")

	return bars, nil
}

// GetGlobalQuote fetches the latest quote for a symbol.
func (c *Client) GetGlobalQuote(ctx context.Context, symbol string) (*GlobalQuote, error) {
	params := map[string]string{"symbol": symbol}

	cacheKey := buildCacheKey("GLOBAL_QUOTE", params)
	if cached, ok := c.getFromCache(cacheKey); ok {
		if quote, ok := cached.(*GlobalQuote); ok {
			return quote, nil
		}
	}

	body, err := c.doRequest(ctx, "GLOBAL_QUOTE", params)
	if err != nil {
		return nil, err
	}

	quote, err := parseGlobalQuote(body)
	if err != nil {
		return nil, err
	}
	if quote.Symbol == "" {
		return nil, ErrSymbolNotFound{Symbol: symbol}
	}

	c.setCache(cacheKey, quote, c.cacheTTL.Quote)
	return quote, nil
}

// doRequest performs one budgeted GET against the API and returns the
// response body after screening it for embedded API errors.
func (c *Client) doRequest(ctx context.Context, function string, params map[string]string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrInvalidAPIKey{}
	}
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", function)
	q.Set("apikey", c.apiKey)
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from Alpha Vantage", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if err := c.checkAPIError(body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkAPIError detects error payloads the API returns with HTTP 200:
// rate-limit notes, invalid-request messages and the plain-text throttle
// page.
func (c *Client) checkAPIError(body []byte) error {
	if strings.Contains(string(body), "Thank you for using Alpha Vantage") {
		c.log.Warn().Msg("API rate limit response received")
		return ErrRateLimitExceeded{}
	}

	var probe struct {
		Note         string `json:"Note"`
		ErrorMessage string `json:"Error Message"`
		Information  string `json:"Information"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		// Not a JSON object; let the caller's parser complain.
		return nil
	}

	if probe.Note != "" {
		c.log.Warn().Str("note", probe.Note).Msg("API returned a note")
		return ErrRateLimitExceeded{}
	}
	if probe.Information != "" {
		c.log.Warn().Str("information", probe.Information).Msg("API returned an information notice")
		return ErrRateLimitExceeded{}
	}
	if probe.ErrorMessage != "" {
		return fmt.Errorf("alpha vantage error: %s", probe.ErrorMessage)
	}
	return nil
}

// Cache helpers.

// buildCacheKey builds a deterministic cache key from the function name and
// parameters. The apikey is never part of the key.
func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "apikey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(function)
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	return sb.String()
}

func (c *Client) setCache(key string, data any, ttl time.Duration) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

func (c *Client) getFromCache(key string) (any, bool) {
	c.cacheMu.RLock()
	entry, ok := c.cache[key]
	c.cacheMu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cacheMu.Lock()
		delete(c.cache, key)
		c.cacheMu.Unlock()
		return nil, false
	}
	return entry.data, true
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// Parsing helpers. Alpha Vantage responses are stringly typed and sometimes
// carry sentinel values ("None", "-", "null"); parsing is tolerant and maps
// unusable values to zero.

// parseFloat64 parses a float, accepting a trailing percent sign. Sentinel
// and invalid values become 0.
func parseFloat64(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" || s == "None" || s == "null" || s == "-" || s == "." {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt64 parses an integer, accepting float and scientific notation.
func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" || s == "null" || s == "-" {
		return 0
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// dailyBarFields is the per-day object inside a daily time series response.
// The adjusted endpoint numbers volume "6."; the unadjusted one uses "5.".
type dailyBarFields struct {
	Open          string `json:"1. open"`
	High          string `json:"2. high"`
	Low           string `json:"3. low"`
	Close         string `json:"4. close"`
	AdjustedClose string `json:"5. adjusted close"`
	VolumeAdj     string `json:"6. volume"`
	VolumeRaw     string `json:"5. volume"`
}

// parseDailyTimeSeries decodes a TIME_SERIES_DAILY(_ADJUSTED) response into
// bars sorted by date ascending. Days that fail to parse are skipped.
func parseDailyTimeSeries(body []byte) ([]domain.DailyBar, error) {
	var payload struct {
		Series map[string]dailyBarFields `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse daily series: %w", err)
	}

	bars := make([]domain.DailyBar, 0, len(payload.Series))
	for dateStr, fields := range payload.Series {
		date, err := domain.ParseDate(dateStr)
		if err != nil {
			continue
		}

		bar := domain.DailyBar{
			Date:          date,
			Open:          parseFloat64(fields.Open),
			High:          parseFloat64(fields.High),
			Low:           parseFloat64(fields.Low),
			Close:         parseFloat64(fields.Close),
			AdjustedClose: parseFloat64(fields.AdjustedClose),
		}
		if bar.AdjustedClose == 0 {
			bar.AdjustedClose = bar.Close
		}
		bar.Volume = parseInt64(fields.VolumeAdj)
		if bar.Volume == 0 {
			bar.Volume = parseInt64(fields.VolumeRaw)
		}

		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	return bars, nil
}

// parseGlobalQuote decodes a GLOBAL_QUOTE response.
func parseGlobalQuote(body []byte) (*GlobalQuote, error) {
	var payload struct {
		Quote struct {
			Symbol           string `json:"01. symbol"`
			Open             string `json:"02. open"`
			High             string `json:"03. high"`
			Low              string `json:"04. low"`
			Price            string `json:"05. price"`
			Volume           string `json:"06. volume"`
			LatestTradingDay string `json:"07. latest trading day"`
			PreviousClose    string `json:"08. previous close"`
			Change           string `json:"09. change"`
			ChangePercent    string `json:"10. change percent"`
		} `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse global quote: %w", err)
	}

	q := payload.Quote
	quote := &GlobalQuote{
		Symbol:        q.Symbol,
		Open:          parseFloat64(q.Open),
		High:          parseFloat64(q.High),
		Low:           parseFloat64(q.Low),
		Price:         parseFloat64(q.Price),
		Volume:        parseInt64(q.Volume),
		PreviousClose: parseFloat64(q.PreviousClose),
		Change:        parseFloat64(q.Change),
		ChangePercent: parseFloat64(q.ChangePercent),
	}
	if d, err := domain.ParseDate(q.LatestTradingDay); err == nil {
		quote.LatestTradingDay = d
	}
	return quote, nil
}
