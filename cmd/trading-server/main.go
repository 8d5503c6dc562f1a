// Package main is the entry point for the trading server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kaigouthro/trading-server/internal/alerting"
	"github.com/kaigouthro/trading-server/internal/config"
	"github.com/kaigouthro/trading-server/internal/engine"
	"github.com/kaigouthro/trading-server/internal/metrics"
	"github.com/kaigouthro/trading-server/internal/persistence"
	"github.com/kaigouthro/trading-server/internal/reconcile"
	"github.com/kaigouthro/trading-server/internal/strategy"
	"github.com/kaigouthro/trading-server/internal/venue"
	"github.com/kaigouthro/trading-server/internal/venue/bitmex"
)

// Version information (set by build flags).
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Trading Server - Multi-Venue Execution Core

Usage:
  trading-server <command> [options]

Commands:
  run        Start the trading server
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  trading-server run --config config.yaml
  trading-server validate --config config.yaml

Use "trading-server <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trading-server version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	for _, v := range cfg.Venues {
		fmt.Printf("  Venue %s: %d instruments\n", v.Name, len(v.Instruments))
	}
	for _, s := range cfg.Strategies {
		fmt.Printf("  Strategy %s: timeframes %v\n", s.Name, s.Timeframes)
	}
	fmt.Printf("  Reconcile interval: %s\n", cfg.ReconcileInterval())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("trading server starting",
		"version", Version,
		"venues", len(cfg.Venues),
		"strategies", len(cfg.Strategies),
	)

	venues, err := buildVenues(cfg, logger)
	if err != nil {
		slog.Error("failed to build venue adapters", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, v := range venues {
			if err := v.Close(); err != nil {
				slog.Warn("venue close failed", "venue", v.Name(), "err", err)
			}
		}
	}()

	registry := strategy.NewRegistry()
	for _, sc := range cfg.Strategies {
		if sc.Name != "ema-cross" {
			slog.Error("unknown strategy in config", "name", sc.Name)
			os.Exit(1)
		}
		registry.Register(strategy.NewEMACross(sc.Timeframes, venueSymbolMap(sc)))
	}

	var store reconcile.Store
	if cfg.Persistence.Enabled {
		repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open audit store", "path", cfg.Persistence.Path, "err", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			slog.Error("audit store migration failed", "err", err)
			os.Exit(1)
		}
		store = repo
	}

	alerter := alerting.NewConsoleAlerter(logger)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		srvCfg := metrics.DefaultServerConfig()
		srvCfg.Port = cfg.Metrics.Port
		metricsSrv = metrics.NewServer(srvCfg, logger)
		if err := metricsSrv.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	eng, err := engine.New(cfg, venues, registry, store, alerter, logger)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}

	if metricsSrv != nil {
		metricsSrv.RegisterHealthCheck("engine", func() metrics.Check {
			if eng.IsRunning() {
				return metrics.Check{Status: metrics.StatusOK}
			}
			return metrics.Check{Status: metrics.StatusDown, Message: "engine not running"}
		})
	}

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	slog.Info("trading server shutdown complete")
}

// buildVenues creates one live adapter per configured venue.
func buildVenues(cfg *config.Config, logger *slog.Logger) (map[string]venue.Venue, error) {
	venues := make(map[string]venue.Venue, len(cfg.Venues))
	for _, vcfg := range cfg.Venues {
		switch vcfg.Name {
		case "BitMEX":
			bc := bitmex.DefaultConfig()
			bc.BaseURL = vcfg.BaseURL
			if vcfg.WSURL != "" {
				bc.WSURL = vcfg.WSURL
			}
			bc.APIKey = vcfg.APIKey
			bc.APISecret = vcfg.APISecret
			if vcfg.RateLimitPerSecond > 0 {
				bc.MaxRequestsPerSecond = vcfg.RateLimitPerSecond
			}
			if t := vcfg.RequestTimeout(); t > 0 {
				bc.RequestTimeout = t
			}
			if incs := vcfg.MinIncrements(); len(incs) > 0 {
				bc.MinIncrements = incs
			}
			venues[vcfg.Name] = bitmex.NewClient(bc, logger)
		default:
			return nil, fmt.Errorf("no adapter available for venue %q", vcfg.Name)
		}
	}
	return venues, nil
}

// venueSymbolMap converts a strategy's configured instruments to the
// venue → symbol → venue-symbol mapping models expect. Canonical and venue
// symbols coincide for the venues currently supported.
func venueSymbolMap(sc config.StrategyConfig) map[string]map[string]string {
	out := make(map[string]map[string]string, len(sc.Instruments))
	for venueName, symbols := range sc.Instruments {
		m := make(map[string]string, len(symbols))
		for _, s := range symbols {
			m[s] = s
		}
		out[venueName] = m
	}
	return out
}
