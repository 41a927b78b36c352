package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulkyeet/liquidation-bot/config"
	"github.com/pulkyeet/liquidation-bot/internal/app"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	log := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(log)

	log.Info("config loaded",
		"network", cfg.Network.Name,
		"rpc", cfg.MaskedRPCURL(),
		"slack", cfg.MaskedSlackWebhook(),
		"pool", cfg.Protocol.Pool.Hex(),
		"primary", cfg.Venues.Primary,
		"secondary", cfg.Venues.Secondary,
		"max_failures", cfg.Bot.MaxConsecutiveFailures,
		"hf_threshold", cfg.Bot.HealthFactorThreshold,
		"profit_threshold_usd", cfg.Bot.ProfitableThresholdUSD,
		"state_dir", cfg.Storage.StateDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Wallet.PrivateKey == "" {
		log.Error("PRIVATE_KEY is required to submit liquidations")
		os.Exit(1)
	}
	log.Info("wallet", "address", a.Chain.Address().Hex(), "chain_id", a.Chain.ChainID())

	if *once {
		report := a.Runner.Step(ctx)
		log.Info("single cycle finished", "outcome", report.Outcome, "attempts", len(report.Attempts))
		return
	}

	if err := a.Runner.Run(ctx); err != nil {
		log.Error("liquidator exited", "err", err)
		os.Exit(1)
	}
}
