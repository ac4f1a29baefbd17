// Command dca runs backtests from the terminal, without the HTTP server in
// the way: single-symbol runs, portfolio runs against a shared cash reserve,
// and batch parameter sweeps.
//
// The result JSON goes to stdout (or the -out file); progress and
// diagnostics go to stderr, so output can be piped. Exit codes are stable
// for scripting: 0 success, 1 validation, 2 execution failure, 3
// interrupted or timed out. SIGINT cancels the run; a cancelled run still
// writes the result for the days it completed.
//
// Config files carry the same JSON shapes as the HTTP request bodies, and
// the same environment defaults apply (DCA_DEFAULT_*), so a request that
// works against the server works here verbatim. Prices come from the prices
// database under DCA_DATA_DIR; `run -prices data.csv` feeds a run from a
// CSV file or a msgpack sync snapshot instead, bypassing the database
// entirely.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/config"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/database"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/di"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/pkg/logger"
)

// Exit codes, stable for scripting.
const (
	exitOK         = 0 // run completed
	exitValidation = 1 // bad flags, config file, or request
	exitExecution  = 2 // the run itself failed, capital leaks included
	exitCancelled  = 3 // interrupted or timed out
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitValidation
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return cmdRun(ctx, args[1:], stdout, stderr)
	case "portfolio":
		return cmdPortfolio(ctx, args[1:], stdout, stderr)
	case "batch":
		return cmdBatch(ctx, args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stderr)
		return exitOK
	default:
		fmt.Fprintf(stderr, "dca: unknown command %q\n\n", args[0])
		usage(stderr)
		return exitValidation
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: dca <command> [flags]

Commands:
  run        single-symbol backtest
  portfolio  multi-symbol backtest against a shared cash reserve
  batch      parameter sweep across symbols and value ranges

Run 'dca <command> -h' for the flags of each command.
`)
}

// runRequest mirrors the POST /api/simulate body, read from -config.
type runRequest struct {
	Symbol         string                 `json:"symbol"`
	StartDate      domain.Date            `json:"startDate"`
	EndDate        domain.Date            `json:"endDate"`
	Params         *domain.ParamsOverride `json:"params,omitempty"`
	ParamOverrides *domain.ParamsOverride `json:"paramOverrides,omitempty"`
}

// portfolioRequest mirrors the POST /api/portfolio body.
type portfolioRequest struct {
	Symbols          []string                         `json:"symbols"`
	StartDate        domain.Date                      `json:"startDate"`
	EndDate          domain.Date                      `json:"endDate"`
	TotalCapital     float64                          `json:"totalCapital"`
	MarginFraction   float64                          `json:"marginFraction,omitempty"`
	Params           *domain.ParamsOverride           `json:"params,omitempty"`
	TickerOverrides  map[string]domain.ParamsOverride `json:"tickerOverrides,omitempty"`
	MembershipEvents []portfolio.MembershipEvent      `json:"membershipEvents,omitempty"`

	BetaScaledOverrides   bool `json:"betaScaledOverrides,omitempty"`
	EnableDeferredSelling bool `json:"enableDeferredSelling,omitempty"`
}

// batchRequest mirrors the POST /api/batch body.
type batchRequest struct {
	Symbols         []string               `json:"symbols"`
	StartDate       domain.Date            `json:"startDate"`
	EndDate         domain.Date            `json:"endDate"`
	BaseParams      *domain.ParamsOverride `json:"baseParams,omitempty"`
	ParameterRanges batch.ParameterRanges  `json:"parameterRanges,omitempty"`
	Workers         int                    `json:"workers,omitempty"`
	TopK            int                    `json:"topK,omitempty"`
}

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "run config JSON (required)")
	pricesPath := fs.String("prices", "", "CSV or msgpack snapshot of daily bars, bypasses the prices database")
	outPath := fs.String("out", "", "write the result here instead of stdout")
	if ok, code := parseArgs(fs, args); !ok {
		return code
	}

	var req runRequest
	if code := readConfigFile(*configPath, &req, stderr); code != exitOK {
		return code
	}
	if req.Symbol == "" {
		fmt.Fprintln(stderr, "dca: symbol is required")
		return exitValidation
	}
	if code := checkWindow(req.StartDate, req.EndDate, stderr); code != exitOK {
		return code
	}

	cfg, log, code := loadEnv(stderr)
	if code != exitOK {
		return code
	}

	params := domain.Merge(di.DefaultsFromConfig(cfg.Simulation), req.Params, req.ParamOverrides)
	if err := params.Validate(); err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitValidation
	}

	var provider domain.PriceProvider
	if *pricesPath != "" {
		p, err := fileProvider(*pricesPath, req.Symbol, log)
		if err != nil {
			fmt.Fprintf(stderr, "dca: %v\n", err)
			return exitValidation
		}
		provider = p
	} else {
		p, _, cleanup, err := openStore(cfg, log)
		if err != nil {
			fmt.Fprintf(stderr, "dca: %v\n", err)
			return exitExecution
		}
		defer cleanup()
		provider = p
	}

	bars, err := fetchBars(ctx, provider, req.Symbol, req.StartDate, req.EndDate, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return classify(err)
	}

	res, err := simulation.NewEngine(log).Run(ctx, req.Symbol, params, bars)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return classify(err)
	}

	if code := writeResult(res, *outPath, stdout, stderr); code != exitOK {
		return code
	}
	if res.Cancelled || res.DeadlineExceeded {
		fmt.Fprintln(stderr, "dca: interrupted, result covers the completed days only")
		return exitCancelled
	}
	return exitOK
}

func cmdPortfolio(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("portfolio", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "portfolio config JSON (required)")
	outPath := fs.String("out", "", "write the result here instead of stdout")
	if ok, code := parseArgs(fs, args); !ok {
		return code
	}

	var req portfolioRequest
	if code := readConfigFile(*configPath, &req, stderr); code != exitOK {
		return code
	}
	if len(req.Symbols) == 0 {
		fmt.Fprintln(stderr, "dca: symbols are required")
		return exitValidation
	}
	if code := checkWindow(req.StartDate, req.EndDate, stderr); code != exitOK {
		return code
	}

	cfg, log, code := loadEnv(stderr)
	if code != exitOK {
		return code
	}

	params := domain.Merge(di.DefaultsFromConfig(cfg.Simulation), req.Params, nil)
	if err := params.Validate(); err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitValidation
	}

	runCfg := portfolio.Config{
		Symbols:               req.Symbols,
		TotalCapital:          req.TotalCapital,
		MarginFraction:        req.MarginFraction,
		Params:                params,
		TickerOverrides:       req.TickerOverrides,
		MembershipEvents:      req.MembershipEvents,
		EnableDeferredSelling: req.EnableDeferredSelling,
	}

	provider, betas, cleanup, err := openStore(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitExecution
	}
	defer cleanup()

	symbols := runCfg.Participants()
	if req.BetaScaledOverrides {
		derived, err := portfolio.BetaScaledOverrides(ctx, betas, symbols, params)
		if err != nil {
			fmt.Fprintf(stderr, "dca: %v\n", err)
			return classify(err)
		}
		runCfg.TickerOverrides = portfolio.MergeScaledOverrides(derived, runCfg.TickerOverrides)
	}

	series, err := fetchSeries(ctx, provider, symbols, req.StartDate, req.EndDate, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return classify(err)
	}

	res, err := portfolio.NewCoordinator(log).Run(ctx, runCfg, series)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return classify(err)
	}

	if code := writeResult(res, *outPath, stdout, stderr); code != exitOK {
		return code
	}
	if res.Cancelled || res.DeadlineExceeded {
		fmt.Fprintln(stderr, "dca: interrupted, result covers the completed days only")
		return exitCancelled
	}
	return exitOK
}

func cmdBatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "batch config JSON (required)")
	workers := fs.Int("workers", 0, "worker pool size, 0 means one per CPU")
	outPath := fs.String("out", "", "write the results here instead of stdout")
	if ok, code := parseArgs(fs, args); !ok {
		return code
	}

	var req batchRequest
	if code := readConfigFile(*configPath, &req, stderr); code != exitOK {
		return code
	}

	cfg, log, code := loadEnv(stderr)
	if code != exitOK {
		return code
	}

	runCfg := batch.Config{
		Symbols:    req.Symbols,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		BaseParams: domain.Merge(di.DefaultsFromConfig(cfg.Simulation), req.BaseParams, nil),
		Ranges:     req.ParameterRanges,
		Workers:    req.Workers,
		TopK:       req.TopK,
	}
	// The -workers flag wins over the config file; both win over the
	// BATCH_WORKERS environment default.
	if *workers > 0 {
		runCfg.Workers = *workers
	} else if runCfg.Workers == 0 {
		runCfg.Workers = cfg.BatchWorkers
	}

	if err := runCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitValidation
	}

	provider, _, cleanup, err := openStore(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitExecution
	}
	defer cleanup()

	progress := func(completed, total int, symbol string, _ domain.Params) {
		fmt.Fprintf(stderr, "batch: %d/%d combinations (last: %s)\n", completed, total, symbol)
	}

	res, err := batch.NewRunner(log).Run(ctx, runCfg, provider, progress)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return classify(err)
	}
	for _, sym := range res.SkippedSymbols {
		fmt.Fprintf(stderr, "dca: %s: no price data, skipped\n", sym)
	}

	if code := writeResult(res, *outPath, stdout, stderr); code != exitOK {
		return code
	}
	if res.Cancelled || res.DeadlineExceeded {
		fmt.Fprintf(stderr, "dca: interrupted after %d of %d combinations\n", res.Completed, res.Total)
		return exitCancelled
	}
	return exitOK
}

// parseArgs parses a subcommand's flags. -h prints the flag usage and exits
// clean; anything else flag rejects is a validation failure.
func parseArgs(fs *flag.FlagSet, args []string) (bool, int) {
	switch err := fs.Parse(args); {
	case err == nil:
		return true, exitOK
	case errors.Is(err, flag.ErrHelp):
		return false, exitOK
	default:
		return false, exitValidation
	}
}

// loadEnv loads the environment configuration and builds the logger every
// command shares. Logs go to stderr, never stdout.
func loadEnv(stderr io.Writer) (*config.Config, zerolog.Logger, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "dca: invalid configuration: %v\n", err)
		return nil, zerolog.Logger{}, exitValidation
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return cfg, log, exitOK
}

// readConfigFile decodes the -config JSON into dst. Unknown fields are
// rejected: a typo in a hand-written config should fail loudly, not pin a
// parameter silently.
func readConfigFile(path string, dst any, stderr io.Writer) int {
	if path == "" {
		fmt.Fprintln(stderr, "dca: -config is required")
		return exitValidation
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitValidation
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		fmt.Fprintf(stderr, "dca: invalid config %s: %v\n", path, err)
		return exitValidation
	}
	return exitOK
}

// checkWindow validates the shared date-window fields of every request.
func checkWindow(start, end domain.Date, stderr io.Writer) int {
	if start.IsZero() || end.IsZero() {
		fmt.Fprintln(stderr, "dca: startDate and endDate are required")
		return exitValidation
	}
	if end.Before(start) {
		fmt.Fprintln(stderr, "dca: endDate precedes startDate")
		return exitValidation
	}
	return exitOK
}

// openStore opens the prices database the server maintains and returns the
// provider plus the beta repository over it.
func openStore(cfg *config.Config, log zerolog.Logger) (*prices.Provider, *prices.BetaRepository, func(), error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "prices.db"),
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	provider := prices.NewProvider(prices.NewRepository(db.Conn(), log), log)
	betas := prices.NewBetaRepository(db.Conn(), log)
	return provider, betas, func() { _ = db.Close() }, nil
}

// fileProvider reads one symbol's bars from a file, standing in for the
// prices database. CSV is the interchange format; a .msgpack file is read
// as a sync snapshot, the kind the server keeps under DCA_DATA_DIR/cache.
func fileProvider(path, symbol string, log zerolog.Logger) (domain.PriceProvider, error) {
	if strings.EqualFold(filepath.Ext(path), ".msgpack") {
		bars, err := prices.NewSeriesCache(log).LoadFile(path)
		if err != nil {
			return nil, err
		}
		return prices.NewStaticProvider(map[string][]domain.DailyBar{symbol: bars}), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := prices.ImportCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prices.NewStaticProvider(map[string][]domain.DailyBar{symbol: bars}), nil
}

// fetchBars resolves one symbol's series. A truncated range proceeds on the
// available bars with a warning, matching the HTTP surface.
func fetchBars(ctx context.Context, provider domain.PriceProvider, symbol string, start, end domain.Date, stderr io.Writer) ([]domain.DailyBar, error) {
	bars, err := provider.GetDailyBars(ctx, symbol, start, end)
	if err != nil {
		var pr *domain.PartialRangeError
		if errors.As(err, &pr) {
			fmt.Fprintf(stderr, "dca: %s: requested %s..%s, using available %s..%s\n",
				symbol, start, end, pr.AvailableStart, pr.AvailableEnd)
			return pr.Bars, nil
		}
		return nil, err
	}
	return bars, nil
}

// fetchSeries resolves every participant's series for a portfolio run.
// Symbols without any data are skipped with a warning and left out of the
// map, so the coordinator records them as skipped.
func fetchSeries(ctx context.Context, provider domain.PriceProvider, symbols []string, start, end domain.Date, stderr io.Writer) (map[string][]domain.DailyBar, error) {
	series := make(map[string][]domain.DailyBar, len(symbols))
	for _, sym := range symbols {
		bars, err := fetchBars(ctx, provider, sym, start, end, stderr)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				fmt.Fprintf(stderr, "dca: %s: no price data, skipping\n", sym)
				continue
			}
			return nil, err
		}
		series[sym] = bars
	}
	return series, nil
}

// writeResult marshals the payload to the -out file, or stdout when unset.
func writeResult(v any, outPath string, stdout, stderr io.Writer) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "dca: failed to encode result: %v\n", err)
		return exitExecution
	}
	data = append(data, '\n')

	if outPath == "" {
		if _, err := stdout.Write(data); err != nil {
			fmt.Fprintf(stderr, "dca: %v\n", err)
			return exitExecution
		}
		return exitOK
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "dca: %v\n", err)
		return exitExecution
	}
	return exitOK
}

// classify maps a run error onto an exit code. Validation failures and
// missing data are the caller's to fix; everything else, capital leaks
// included, is an execution failure.
func classify(err error) int {
	var vErr *domain.ValidationError
	var nfErr *domain.NotFoundError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return exitCancelled
	case errors.As(err, &vErr), errors.As(err, &nfErr):
		return exitValidation
	default:
		return exitExecution
	}
}
