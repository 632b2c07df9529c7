// Command arb_bot runs the delta-neutral funding-rate arbitrage engine and
// its diagnostic subcommands.
//
//	arb_bot run          start the trading engine
//	arb_bot spot         scan funding edges without trading
//	arb_bot funding-scan dump current and historical funding rates
//	arb_bot pnl          print the PnL ledger summary
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/engine"
	"funding_arb/internal/persistence"
	"funding_arb/internal/venue/hyperliquid"
	"funding_arb/internal/venue/lighter"
	"funding_arb/pkg/logging"
	"funding_arb/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	defaultHyperliquidURL = "https://api.hyperliquid.xyz"
	defaultLighterURL     = "https://mainnet.zklighter.elliot.ai"
)

// stringSlice is a repeatable string flag
type stringSlice []string

func (s *stringSlice) String() string { return fmt.Sprintf("%v", []string(*s)) }

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "spot":
		err = spotCmd(os.Args[2:])
	case "funding-scan":
		err = fundingScanCmd(os.Args[2:])
	case "pnl":
		err = pnlCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: arb_bot <command> [flags]

Commands:
  run           start the trading engine
  spot          scan for funding arbitrage opportunities without trading
  funding-scan  print current and historical funding rates
  pnl           print the PnL ledger summary

Run "arb_bot <command> -h" for command flags.
`)
}

// newVenue builds the adapter matching the configured venue name
func newVenue(cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
	switch cfg.Name {
	case "hyperliquid":
		return hyperliquid.New(cfg, logger), nil
	case "lighter":
		return lighter.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", cfg.Name)
	}
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	profile := fs.String("profile", "", "config profile name or path (default configs/dev.yaml)")
	logLevel := fs.String("log-level", "INFO", "logging level")
	fs.Parse(args)

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	cfg, err := config.LoadConfig(config.ProfilePath(*profile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LogLevel != "" && *logLevel == "INFO" {
		if l, err := logging.NewZapLogger(cfg.LogLevel); err == nil {
			logger = l
			logging.SetGlobalLogger(logger)
		}
	}

	tel, err := telemetry.Setup("funding_arb")
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", "error", err)
		}
	}()

	if cfg.Telemetry.EnableMetrics {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			logger.Info("Metrics endpoint listening", "addr", addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	primary, err := newVenue(cfg.Primary, logger)
	if err != nil {
		return fmt.Errorf("primary venue: %w", err)
	}
	hedge, err := newVenue(cfg.Hedge, logger)
	if err != nil {
		return fmt.Errorf("hedge venue: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, v := range []core.IVenue{primary, hedge} {
		if err := v.CheckHealth(ctx); err != nil {
			logger.Warn("Venue health check failed at startup", "venue", v.GetName(), "error", err)
		}
	}

	controller, err := engine.NewController(cfg, primary, hedge, logger)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	logger.Info("Bot starting",
		"environment", cfg.Environment,
		"primary", primary.GetName(),
		"hedge", hedge.GetName())

	if err := controller.Run(ctx); err != nil {
		if errors.Is(err, engine.ErrHalted) {
			return err
		}
		return fmt.Errorf("controller run: %w", err)
	}
	return nil
}

func spotCmd(args []string) error {
	fs := flag.NewFlagSet("spot", flag.ExitOnError)
	minEdgeBps := fs.Float64("min-edge-bps", 20.0, "minimum funding rate edge in basis points")
	verbose := fs.Bool("v", false, "show all compared symbols")
	fs.BoolVar(verbose, "verbose", false, "show all compared symbols")
	logLevel := fs.String("log-level", "ERROR", "logging level")
	primaryURL := fs.String("primary-url", defaultHyperliquidURL, "primary venue API base URL")
	hedgeURL := fs.String("hedge-url", defaultLighterURL, "hedge venue API base URL")
	var symbols stringSlice
	fs.Var(&symbols, "symbol", "symbol to track (repeatable; default: all common)")
	fs.Var(&symbols, "s", "symbol to track (shorthand)")
	fs.Parse(args)

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	primary := hyperliquid.New(config.VenueConfig{Name: "hyperliquid", BaseURL: *primaryURL}, logger)
	hedge := lighter.New(config.VenueConfig{Name: "lighter", BaseURL: *hedgeURL}, logger)
	defer primary.Close()
	defer hedge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	minEdge := decimal.NewFromFloat(*minEdgeBps)
	fmt.Printf("\nScanning for funding arb opportunities (min edge: %s bps)...\n\n", minEdge)
	fmt.Printf("%-10s %-12s %-12s %-10s %-10s %-35s\n",
		"Symbol", "Pri Rate %", "Hdg Rate %", "Edge", "APY %", "Direction")
	fmt.Println(strings.Repeat("=", 100))

	for {
		if err := spotScanOnce(ctx, primary, hedge, symbols, minEdge, *verbose); err != nil {
			logger.Error("Scan iteration failed", "error", err)
		}
		select {
		case <-ctx.Done():
			fmt.Println("\nStopped scanning.")
			return nil
		case <-time.After(60 * time.Second):
		}
	}
}

// edgeRow is one compared symbol in the spot scan
type edgeRow struct {
	symbol      string
	primaryRate decimal.Decimal
	hedgeRate   decimal.Decimal
	edgeBps     decimal.Decimal
}

func spotScanOnce(ctx context.Context, primary, hedge core.IVenue, symbols []string, minEdge decimal.Decimal, verbose bool) error {
	primaryRates, err := primary.GetFundingRates(ctx)
	if err != nil {
		return fmt.Errorf("primary funding rates: %w", err)
	}
	hedgeRates, err := hedge.GetFundingRates(ctx)
	if err != nil {
		return fmt.Errorf("hedge funding rates: %w", err)
	}

	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}
	hedgeBySymbol := make(map[string]decimal.Decimal, len(hedgeRates))
	for _, r := range hedgeRates {
		hedgeBySymbol[r.Symbol] = r.Rate
	}

	tenK := decimal.NewFromInt(10000)
	var compared []edgeRow
	for _, pr := range primaryRates {
		hr, onBoth := hedgeBySymbol[pr.Symbol]
		if !onBoth {
			continue
		}
		if len(symbols) > 0 && !requested[pr.Symbol] {
			continue
		}
		// Both exactly zero usually means the market is not really live
		if pr.Rate.IsZero() && hr.IsZero() {
			continue
		}
		compared = append(compared, edgeRow{
			symbol:      pr.Symbol,
			primaryRate: pr.Rate,
			hedgeRate:   hr,
			edgeBps:     pr.Rate.Sub(hr).Mul(tenK),
		})
	}

	sort.Slice(compared, func(i, j int) bool {
		return compared[i].edgeBps.Abs().GreaterThan(compared[j].edgeBps.Abs())
	})

	if verbose && len(compared) > 0 {
		fmt.Printf("\nCompared %d symbols available on both venues\n", len(compared))
		for i, row := range compared {
			if i >= 10 {
				break
			}
			fmt.Printf("  %-10s Pri:%9s%% Hdg:%9s%% Edge:%8s bps\n",
				row.symbol,
				row.primaryRate.Mul(decimal.NewFromInt(100)).StringFixed(4),
				row.hedgeRate.Mul(decimal.NewFromInt(100)).StringFixed(4),
				row.edgeBps.StringFixed(2))
		}
		fmt.Println()
	}

	found := 0
	for _, row := range compared {
		if row.edgeBps.Abs().LessThan(minEdge) {
			continue
		}
		found++
		direction := "Long hedge / Short primary"
		if row.edgeBps.IsNegative() {
			direction = "Long primary / Short hedge"
		}
		// Funding pays three times a day
		apy := row.edgeBps.Abs().Mul(decimal.NewFromInt(3 * 365)).Div(decimal.NewFromInt(100))
		fmt.Printf("%-10s %12s %12s %10s %10s %-35s\n",
			row.symbol,
			row.primaryRate.Mul(decimal.NewFromInt(100)).StringFixed(6),
			row.hedgeRate.Mul(decimal.NewFromInt(100)).StringFixed(6),
			row.edgeBps.StringFixed(2),
			apy.StringFixed(1),
			direction)
	}

	now := time.Now().Format("15:04:05")
	if found > 0 {
		fmt.Printf("\nFound %d opportunities at %s\n\n", found, now)
	} else {
		fmt.Printf("No opportunities found at %s\n", now)
	}
	return nil
}

func fundingScanCmd(args []string) error {
	fs := flag.NewFlagSet("funding-scan", flag.ExitOnError)
	lighterURL := fs.String("lighter-base-url", defaultLighterURL, "Lighter API base URL")
	hlURL := fs.String("hl-base-url", defaultHyperliquidURL, "Hyperliquid API base URL")
	hours := fs.Int("hours", 24, "hours back for the Hyperliquid funding history window")
	dbPath := fs.String("db", ".funding_history.db", "funding archive database path")
	logLevel := fs.String("log-level", "INFO", "logging level")
	var hlSymbols stringSlice
	fs.Var(&hlSymbols, "hl-symbol", "Hyperliquid symbol to query funding history for (repeatable)")
	fs.Var(&hlSymbols, "s", "Hyperliquid symbol (shorthand)")
	fs.Parse(args)

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	store, err := persistence.OpenFundingStore(*dbPath)
	if err != nil {
		return fmt.Errorf("open funding archive: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hedge := lighter.New(config.VenueConfig{Name: "lighter", BaseURL: *lighterURL}, logger)
	defer hedge.Close()

	fmt.Println("=== Lighter Funding Rates ===")
	rates, err := hedge.GetFundingRates(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lighter error: %v\n", err)
	} else {
		tenK := decimal.NewFromInt(10000)
		now := time.Now()
		for _, r := range rates {
			fmt.Printf("  %-15s %14s\n", r.Symbol, r.Rate.StringFixed(8))
			if err := store.Append(ctx, persistence.FundingObservation{
				Symbol:     r.Symbol,
				Venue:      "lighter",
				RateBps:    r.Rate.Mul(tenK),
				ObservedAt: now,
			}); err != nil {
				logger.Warn("Archive append failed", "symbol", r.Symbol, "error", err)
			}
		}
	}

	if len(hlSymbols) > 0 {
		primary := hyperliquid.New(config.VenueConfig{Name: "hyperliquid", BaseURL: *hlURL}, logger)
		defer primary.Close()

		fmt.Println("\n=== Hyperliquid Funding History ===")
		end := time.Now()
		start := end.Add(-time.Duration(*hours) * time.Hour)
		tenK := decimal.NewFromInt(10000)

		for _, symbol := range hlSymbols {
			history, err := primary.FundingHistory(ctx, symbol, start, end)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Hyperliquid error for %s: %v\n", symbol, err)
				continue
			}
			fmt.Printf("\n%s: %d funding events\n", symbol, len(history))

			tail := history
			if len(tail) > 5 {
				tail = tail[len(tail)-5:]
			}
			for _, entry := range tail {
				fmt.Printf("  %15d %14s\n", entry.UpdatedAt, entry.Rate.StringFixed(8))
			}
			for _, entry := range history {
				if err := store.Append(ctx, persistence.FundingObservation{
					Symbol:     symbol,
					Venue:      "hyperliquid",
					RateBps:    entry.Rate.Mul(tenK),
					ObservedAt: time.UnixMilli(entry.UpdatedAt),
				}); err != nil {
					logger.Warn("Archive append failed", "symbol", symbol, "error", err)
				}
			}

			window, err := store.Window(ctx, symbol, start)
			if err == nil {
				fmt.Printf("  archived observations in window: %d\n", len(window))
			}
		}
	}
	return nil
}

func pnlCmd(args []string) error {
	fs := flag.NewFlagSet("pnl", flag.ExitOnError)
	pnlFile := fs.String("pnl-file", ".pnl_state.json", "PnL ledger path")
	fs.Parse(args)

	logger, err := logging.NewZapLogger("ERROR")
	if err != nil {
		return err
	}

	ledger := persistence.OpenLedger(*pnlFile, logger)
	totals := ledger.Totals()

	fmt.Println("\n=== PnL Summary ===")
	fmt.Printf("Realized PnL:     $%12s\n", totals.RealizedPnL.StringFixed(2))
	fmt.Printf("Funding Earned:   $%12s\n", totals.TotalFunding.StringFixed(2))
	fmt.Printf("Fees Paid:        $%12s\n", totals.TotalFees.StringFixed(2))
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Net PnL:          $%12s\n", totals.NetPnL.StringFixed(2))
	fmt.Printf("Trades recorded:  %d\n\n", ledger.TradeCount())
	return nil
}
