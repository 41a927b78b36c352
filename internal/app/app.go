// Package app builds the liquidator's object graph from a Config. Every
// command shares it so they all read the chain the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/config"
	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/bot"
	"github.com/pulkyeet/liquidation-bot/internal/directory"
	"github.com/pulkyeet/liquidation-bot/internal/eth"
	"github.com/pulkyeet/liquidation-bot/internal/executor"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/pkg/httpx"
	"github.com/pulkyeet/liquidation-bot/internal/scanner"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

type App struct {
	Config *config.Config
	Log    *slog.Logger

	Chain         *eth.Client
	Ledger        *ledger.Client
	Directory     directory.Directory
	Ignore        *storage.IgnoreStore
	NotProfitable *storage.IgnoreMemory
	Errored       *storage.IgnoreMemory
	States        *storage.StateStore
	Router        *swap.Router
	Executor      *executor.Executor
	Notifier      *alert.Notifier
	Scanner       *scanner.Scanner
	Pipeline      *bot.Pipeline
	Runner        *bot.Runner
}

// New dials the RPC, opens the state directory and wires every component.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	chain, err := eth.Dial(ctx, eth.Options{
		URL:               cfg.RPC.URL,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		PrivateKey:        cfg.Wallet.PrivateKey,
	})
	if err != nil {
		return nil, err
	}
	a.Chain = chain
	if cfg.Network.ChainID != 0 && chain.ChainID().Int64() != cfg.Network.ChainID {
		a.Close()
		return nil, fmt.Errorf("rpc is on chain %s, config expects %d", chain.ChainID(), cfg.Network.ChainID)
	}

	if err := a.build(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log *slog.Logger) error {
	var closeFactor *big.Int
	if cfg.Protocol.CloseFactorThreshold != "" {
		v, err := config.ParseWad(cfg.Protocol.CloseFactorThreshold)
		if err != nil {
			return err
		}
		closeFactor = v
	}
	l, err := ledger.NewClient(a.Chain, ledger.Addresses{
		Pool:         cfg.Protocol.Pool,
		DataProvider: cfg.Protocol.DataProvider,
		Oracle:       cfg.Protocol.Oracle,
	}, closeFactor)
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}
	a.Ledger = l

	if cfg.Network.Local {
		a.Directory = directory.Static(cfg.Directory.StaticUsers)
	} else {
		a.Directory = directory.NewSubgraph(cfg.Directory.SubgraphURL, cfg.Directory.PageSize,
			httpx.New(cfg.RPC.Timeout, cfg.Directory.RequestsPerSecond).WithLogger(log))
	}

	if a.Ignore, err = storage.OpenIgnoreStore(cfg.Storage.StateDir); err != nil {
		return err
	}
	a.NotProfitable = storage.NewIgnoreMemory(a.Ignore, storage.NamespaceNotProfitable, cfg.Bot.IgnoreTTL)
	a.Errored = storage.NewIgnoreMemory(a.Ignore, storage.NamespaceErrored, cfg.Bot.ErrorIgnoreTTL)
	if a.States, err = storage.NewStateStore(cfg.Storage.StateDir); err != nil {
		return err
	}

	if a.Router, err = a.router(cfg, log); err != nil {
		return err
	}

	a.Executor = executor.New(a.Chain, executor.Config{
		FlashLoanLiquidator: cfg.Contracts.FlashLoanLiquidator,
		FlashMintLiquidator: cfg.Contracts.FlashMintLiquidator,
		FlashMintAsset:      cfg.Protocol.FlashMintAsset,
		UnstakeTokens:       cfg.UnstakeTokens,
	}, log)

	a.Notifier = alert.NewNotifier(a.sink(cfg), log)

	hfThreshold, err := config.ParseWad(cfg.Bot.HealthFactorThreshold)
	if err != nil {
		return err
	}
	a.Scanner = scanner.New(a.Directory, a.Ledger, []scanner.Ignorer{a.NotProfitable, a.Errored}, scanner.Config{
		HealthFactorThreshold: hfThreshold,
		HealthFactorBatchSize: cfg.Bot.HealthFactorBatchSize,
		LiquidatingBatchSize:  cfg.Bot.LiquidatingBatchSize,
	}, log)

	a.Pipeline = bot.NewPipeline(bot.PipelineDeps{
		Ledger:        a.Ledger,
		Resolver:      a.Router,
		Executor:      a.Executor,
		NotProfitable: a.NotProfitable,
		Errored:       a.Errored,
		States:        a.States,
		Notifier:      a.Notifier,
	}, bot.PipelineConfig{
		ProfitableThresholdUSD: cfg.Bot.ProfitableThresholdUSD,
		PriceDecimals:          cfg.Protocol.PriceDecimals,
		ReserveBatchSize:       cfg.Bot.ReserveBatchSize,
	}, log)

	a.Runner = bot.NewRunner(a.Scanner, a.Ledger, a.Pipeline,
		bot.NewFallbackState(swap.Venue(cfg.Venues.Primary), swap.Venue(cfg.Venues.Secondary), cfg.Bot.MaxConsecutiveFailures),
		a.Notifier,
		bot.RunnerConfig{
			ScanInterval:     cfg.Bot.ScanInterval,
			CycleTimeout:     cfg.Bot.CycleTimeout,
			ReserveBatchSize: cfg.Bot.ReserveBatchSize,
		}, log)

	return nil
}

// router registers a resolver for every venue named in the config.
func (a *App) router(cfg *config.Config, log *slog.Logger) (*swap.Router, error) {
	resolvers := make(map[swap.Venue]swap.Resolver)

	for _, v := range []string{cfg.Venues.Primary, cfg.Venues.Secondary} {
		venue := swap.Venue(v)
		if _, ok := resolvers[venue]; ok {
			continue
		}

		switch v {
		case config.VenueOdos:
			resolvers[venue] = swap.NewOdos(swap.OdosConfig{
				BaseURL:           cfg.Venues.Odos.APIURL,
				ChainID:           a.Chain.ChainID().Int64(),
				Router:            cfg.Venues.Odos.Router,
				SlippageBufferBps: cfg.Venues.Odos.SlippageBufferBps,
			}, httpx.New(cfg.RPC.Timeout, cfg.Venues.Odos.RequestsPerSecond).WithLogger(log), a.Ledger, log)

		case config.VenueCurve:
			routes := make([]swap.CurveRoute, 0, len(cfg.Venues.Curve.Routes))
			for _, r := range cfg.Venues.Curve.Routes {
				routes = append(routes, swap.CurveRoute{
					Input:             r.Input,
					Output:            r.Output,
					Route:             r.Route,
					SwapParams:        r.SwapParams,
					SlippageBufferBps: r.SlippageBufferBps,
				})
			}
			c, err := swap.NewCurve(routes, cfg.Venues.Curve.SlippageBufferBps, a.Ledger)
			if err != nil {
				return nil, fmt.Errorf("curve routes: %w", err)
			}
			resolvers[venue] = c

		case config.VenueUniswapV3:
			u, err := swap.NewUniswapV3(swap.UniswapV3Config{
				Factory:       cfg.Venues.UniswapV3.Factory,
				QuoteAsset:    cfg.Venues.UniswapV3.QuoteAsset,
				WrappedNative: cfg.Venues.UniswapV3.WrappedNative,
				FeeTiers:      cfg.Venues.UniswapV3.FeeTiers,
			}, a.Chain, a.Ledger)
			if err != nil {
				return nil, fmt.Errorf("uniswap v3: %w", err)
			}
			resolvers[venue] = u
		}
	}

	return swap.NewRouter(resolvers), nil
}

func (a *App) sink(cfg *config.Config) alert.Sink {
	var sinks alert.Multi
	if cfg.Alert.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlack(cfg.Alert.SlackWebhookURL, httpx.New(cfg.RPC.Timeout, 1).WithLogger(a.Log)))
	}
	if cfg.Alert.Console {
		sinks = append(sinks, alert.NewConsoleWriter(os.Stderr))
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

// Close releases the RPC connection and the ignore database.
func (a *App) Close() error {
	var errs []error
	if a.Ignore != nil {
		errs = append(errs, a.Ignore.Close())
	}
	if a.Chain != nil {
		a.Chain.Close()
	}
	return errors.Join(errs...)
}

// Venue returns the configured venue for name, or an error for an unknown one.
func Venue(name string) (swap.Venue, error) {
	switch name {
	case config.VenueOdos, config.VenueCurve, config.VenueUniswapV3:
		return swap.Venue(name), nil
	}
	return "", fmt.Errorf("unknown venue %q", name)
}

// ShortAddr is used in tables.
func ShortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + ".." + h[len(h)-4:]
}
