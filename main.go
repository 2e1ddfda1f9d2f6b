package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marketgrab/internal/catalog"
	"marketgrab/internal/config"
	"marketgrab/internal/executor"
	"marketgrab/internal/ledger"
	"marketgrab/internal/quality"
	"marketgrab/internal/ratelimit"
	"marketgrab/internal/series"
	"marketgrab/internal/store"
	"marketgrab/internal/yahoo"
)

func main() {
	// Handle interrupt signals for graceful shutdown: dispatch stops,
	// in-flight tasks finish, the atomic write discipline keeps the
	// dataset clean.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "marketgrab",
		Short:         "Download, store, and validate historical market data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.AddCommand(newFetchCmd(&configPath))
	root.AddCommand(newReplayCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	return root
}

type pipeline struct {
	cfg   *config.Config
	store *store.Store
	exec  *executor.Executor
}

func buildPipeline(configPath string) (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	st := store.New(cfg.Storage.DataRoot, store.WithEmptyRecheck(cfg.EmptyRecheck()))
	src := yahoo.NewClient(cfg.Yahoo.BaseURL, cfg.Yahoo.FallbackBaseURL)
	lim := ratelimit.New(cfg.RateLimiterConfig())
	exec := executor.New(st, src, lim, executor.Options{
		Concurrency:      cfg.Download.Concurrency,
		BatchDays:        cfg.Download.BatchDays,
		MaxRetries:       cfg.Download.MaxRetries,
		StartupJitterMax: cfg.StartupJitter(),
	})
	exec.OnEvent(func(ev executor.Event) {
		if ev.Type != executor.EventTaskDone {
			return
		}
		slog.Info("task done",
			"run_id", ev.RunID,
			"symbol", ev.Target.Symbol,
			"granularity", ev.Target.Granularity,
			"outcome", ev.Outcome)
	})
	return &pipeline{cfg: cfg, store: st, exec: exec}, nil
}

func newFetchCmd(configPath *string) *cobra.Command {
	var (
		symbolsFlag string
		gransFlag   string
		startFlag   string
		endFlag     string
		assetClass  string
		adjustFlag  string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download history for a set of instruments",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline(*configPath)
			if err != nil {
				return err
			}
			window, err := parseWindow(startFlag, endFlag)
			if err != nil {
				return err
			}
			adjust, err := series.ParseAdjustMode(adjustFlag)
			if err != nil {
				return err
			}
			grans, err := parseGranularities(gransFlag)
			if err != nil {
				return err
			}
			symbols, err := resolveSymbols(cmd.Context(), p.cfg, symbolsFlag, assetClass)
			if err != nil {
				return err
			}
			targets := executor.BuildTargets(assetClass, symbols, grans, window, adjust)
			result := p.exec.Run(cmd.Context(), targets)
			printSummary(result)
			if len(result.Failures) > 0 {
				if err := ledger.Write(p.cfg.Ledger, result.Failures); err != nil {
					return err
				}
				slog.Info("failures recorded", "path", p.cfg.Ledger, "count", len(result.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbols (default: catalog)")
	cmd.Flags().StringVar(&gransFlag, "granularities", "1d", "comma-separated granularities")
	cmd.Flags().StringVar(&startFlag, "start", "", "range start YYYY-MM-DD (default: one year ago)")
	cmd.Flags().StringVar(&endFlag, "end", "", "range end YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&assetClass, "asset-class", "stock", "asset class")
	cmd.Flags().StringVar(&adjustFlag, "adjust", "auto", "price adjustment mode")
	return cmd
}

func newReplayCmd(configPath *string) *cobra.Command {
	var (
		strict  bool
		rewrite bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run previously failed fetch tasks from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := buildPipeline(*configPath)
			if err != nil {
				return err
			}
			records, warnings, err := ledger.Load(p.cfg.Ledger, strict)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				slog.Warn(w)
			}
			if len(records) == 0 {
				fmt.Println("ledger has no replayable records")
				return nil
			}
			targets := executor.TargetsFromRecords(records, time.Now().UTC())
			result := p.exec.Run(cmd.Context(), targets)
			printSummary(result)
			if rewrite {
				if err := ledger.Write(p.cfg.Ledger, result.Failures); err != nil {
					return err
				}
				slog.Info("ledger regenerated", "path", p.cfg.Ledger, "count", len(result.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "abort on the first invalid ledger row")
	cmd.Flags().BoolVar(&rewrite, "rewrite-ledger", false, "replace the ledger with this run's failures")
	return cmd
}

func newValidateCmd(configPath *string) *cobra.Command {
	var (
		rootFlag   string
		assetClass string
		symbol     string
		granFlag   string
		jsonlPath  string
		csvPath    string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Scan stored datasets for quality issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			root := rootFlag
			if root == "" {
				root = cfg.Storage.DataRoot
			}
			filters := quality.Filters{
				AssetClass:  assetClass,
				Symbol:      symbol,
				Granularity: granFlag,
			}
			report, err := quality.Scan(root, filters, cfg.Validate.Workers)
			if err != nil {
				return err
			}
			fmt.Printf("scanned %d files: %d with issues, %d errors, %d warnings\n",
				report.FilesScanned, report.FilesWithIssue, report.ErrorCount, report.WarnCount)
			for _, issue := range report.Issues {
				fmt.Printf("  %s %s %s: %s\n", issue.Severity, issue.RuleID, issue.Path, issue.Message)
			}
			if err := exportIssues(jsonlPath, csvPath, report.Issues); err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("validation failed: %d error issue(s)", report.ErrorCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootFlag, "root", "", "dataset root (default: configured data root)")
	cmd.Flags().StringVar(&assetClass, "asset-class", "", "filter by asset class")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&granFlag, "granularity", "", "filter by granularity")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "write issues as JSON lines")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write issues as CSV")
	return cmd
}

func exportIssues(jsonlPath, csvPath string, issues []quality.Issue) error {
	if jsonlPath != "" {
		f, err := os.Create(jsonlPath)
		if err != nil {
			return err
		}
		if err := quality.WriteJSONL(f, issues); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return err
		}
		if err := quality.WriteCSV(f, issues); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func resolveSymbols(ctx context.Context, cfg *config.Config, symbolsFlag, assetClass string) ([]string, error) {
	if symbolsFlag != "" {
		var symbols []string
		for _, s := range strings.Split(symbolsFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		return symbols, nil
	}
	if cfg.Catalog.SymbolsFile == "" {
		return nil, fmt.Errorf("no symbols given and no catalog symbols_file configured")
	}
	cat := &catalog.FileCatalog{
		Path:            cfg.Catalog.SymbolsFile,
		IncludePrefixes: cfg.Catalog.IncludePrefixes,
		ExcludePrefixes: cfg.Catalog.ExcludePrefixes,
	}
	return cat.Instruments(ctx, assetClass)
}

func parseWindow(startFlag, endFlag string) (series.Interval, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	window := series.Interval{Start: now.AddDate(0, 0, -365), End: now}
	if startFlag != "" {
		t, err := time.ParseInLocation("2006-01-02", startFlag, time.UTC)
		if err != nil {
			return series.Interval{}, fmt.Errorf("invalid --start: %w", err)
		}
		window.Start = t
	}
	if endFlag != "" {
		t, err := time.ParseInLocation("2006-01-02", endFlag, time.UTC)
		if err != nil {
			return series.Interval{}, fmt.Errorf("invalid --end: %w", err)
		}
		window.End = t
	}
	if window.End.Before(window.Start) {
		return series.Interval{}, fmt.Errorf("--end is before --start")
	}
	return window, nil
}

func parseGranularities(flag string) ([]series.Granularity, error) {
	var grans []series.Granularity
	for _, s := range strings.Split(flag, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		g, err := series.ParseGranularity(s)
		if err != nil {
			return nil, err
		}
		grans = append(grans, g)
	}
	if len(grans) == 0 {
		return nil, fmt.Errorf("no granularities given")
	}
	return grans, nil
}

func printSummary(result *executor.RunResult) {
	fmt.Printf("run %s: %d succeeded, %d skipped, %d empty, %d failed",
		result.RunID, result.Succeeded, result.Skipped, result.Empty, result.Failed)
	if result.Cancelled > 0 {
		fmt.Printf(", %d cancelled", result.Cancelled)
	}
	fmt.Println()
}
