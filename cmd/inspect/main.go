package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/config"
	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/app"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/liquidation"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	userHex := flag.String("user", "", "borrower address")
	venueName := flag.String("venue", "", "swap venue (default: venues.primary)")
	execute := flag.Bool("execute", false, "submit the liquidation")
	flag.Parse()

	if !common.IsHexAddress(*userHex) {
		log.Fatal("usage: inspect -user 0x... [-venue odos|curve|uniswap_v3] [-execute]")
	}
	user := common.HexToAddress(*userHex)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *venueName == "" {
		*venueName = cfg.Venues.Primary
	}
	venue, err := app.Venue(*venueName)
	if err != nil {
		log.Fatal(err)
	}
	if *execute && cfg.Wallet.PrivateKey == "" {
		log.Fatal("-execute needs PRIVATE_KEY")
	}
	// only the requested venue needs a resolver
	cfg.Venues.Primary, cfg.Venues.Secondary = *venueName, *venueName

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, cfg.Log.Logger(os.Stderr))
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	reserves, err := ledger.Snapshot(ctx, a.Ledger, cfg.Bot.ReserveBatchSize)
	if err != nil {
		log.Fatalf("reserve snapshot: %v", err)
	}
	cft, err := a.Ledger.CloseFactorThreshold(ctx)
	if err != nil {
		log.Fatalf("close factor threshold: %v", err)
	}

	pos, err := ledger.ReadPosition(ctx, a.Ledger, user, reserves, cfg.Bot.ReserveBatchSize)
	if err != nil {
		log.Fatalf("read position: %v", err)
	}

	fmt.Printf("\nuser %s\nhealth factor %s (close factor threshold %s)\n\n",
		user.Hex(), ledger.FormatUnits(pos.HealthFactor, 18), ledger.FormatUnits(cft, 18))
	printPosition(pos, reserves, cfg.Protocol.PriceDecimals)

	if !ledger.IsLiquidatable(pos.HealthFactor) {
		fmt.Println("\nposition is safe")
		return
	}

	c, err := liquidation.NewCandidate(pos, reserves, cft, cfg.Protocol.PriceDecimals)
	if err != nil {
		fmt.Printf("\nno candidate: %v\n", err)
		return
	}

	contract, mode := a.Executor.ContractFor(c.Debt.Reserve.Address)
	unstake := a.Executor.Unstake(c.Collateral.Reserve.Address)

	fmt.Println("\ncandidate:")
	alert.RenderTable(os.Stdout, []string{"field", "value"}, [][]string{
		{"collateral", c.Collateral.Reserve.Symbol + " " + c.Collateral.Reserve.Address.Hex()},
		{"debt", c.Debt.Reserve.Symbol + " " + c.Debt.Reserve.Address.Hex()},
		{"repay", ledger.FormatUnits(c.RepayAmount, c.Debt.Reserve.Decimals)},
		{"bonus_bps", fmt.Sprint(c.Collateral.Reserve.LiquidationBonus)},
		{"profit_usd", fmt.Sprintf("%.2f", c.ProfitUSD)},
		{"profitable", fmt.Sprint(c.Profitable(cfg.Bot.ProfitableThresholdUSD))},
		{"mode", string(mode)},
		{"contract", contract.Hex()},
		{"unstake", fmt.Sprint(unstake)},
	})

	in, err := a.Router.Resolve(ctx, venue, swap.Request{
		Collateral:  c.Collateral.Reserve,
		Debt:        c.Debt.Reserve,
		RepayAmount: c.RepayAmount,
		Unstake:     unstake,
		Executor:    contract,
	})
	if err != nil {
		fmt.Printf("\nno route on %s: %v\n", venue, err)
		return
	}
	payload, err := swap.EncodePayload(in)
	if err != nil {
		log.Fatalf("encode payload: %v", err)
	}
	fmt.Printf("\nroute on %s: %d byte payload\n%s\n", venue, len(payload), describe(in))

	if !*execute {
		fmt.Println("\ndry run, pass -execute to submit")
		return
	}

	res, err := a.Executor.Execute(ctx, c, in)
	if err != nil {
		log.Fatalf("execute: %v", err)
	}
	fmt.Printf("\nliquidated in %s (gas %d)\n", res.TxHash.Hex(), res.GasUsed)
	if res.SeizedCollateral != nil {
		fmt.Printf("seized %s %s for %s %s\n",
			ledger.FormatUnits(res.SeizedCollateral, c.Collateral.Reserve.Decimals), c.Collateral.Reserve.Symbol,
			ledger.FormatUnits(res.DebtCovered, c.Debt.Reserve.Decimals), c.Debt.Reserve.Symbol)
	}
}

func printPosition(pos ledger.Position, reserves map[common.Address]ledger.ReserveInfo, priceDecimals uint8) {
	alert.RenderTable(os.Stdout, []string{"reserve", "address", "supply", "debt", "price", "collateral"},
		positionRows(pos, reserves, priceDecimals))
}

// positionRows renders one row per non-empty reserve, ordered by address.
func positionRows(pos ledger.Position, reserves map[common.Address]ledger.ReserveInfo, priceDecimals uint8) [][]string {
	addrs := make([]common.Address, 0, len(pos.Balances))
	for a := range pos.Balances {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

	rows := make([][]string, 0, len(addrs))
	for _, addr := range addrs {
		r, bal := reserves[addr], pos.Balances[addr]
		rows = append(rows, []string{
			r.Symbol,
			app.ShortAddr(addr),
			ledger.FormatUnits(bal.Supply, r.Decimals),
			ledger.FormatUnits(bal.Debt, r.Decimals),
			ledger.FormatUnits(r.Price, priceDecimals),
			fmt.Sprint(r.UsageAsCollateral),
		})
	}
	return rows
}

func describe(in swap.Instruction) string {
	switch in := in.(type) {
	case swap.OdosInstruction:
		return fmt.Sprintf("odos router %s, input %s, %d bytes calldata", in.ApprovalTarget.Hex(), in.InputAmount, len(in.Calldata))
	case swap.CurveInstruction:
		hops := 0
		for _, a := range in.Route {
			if a != (common.Address{}) {
				hops++
			}
		}
		return fmt.Sprintf("curve route with %d addresses, slippage buffer %d bps", hops, in.SlippageBufferBps)
	case swap.UniswapV3Instruction:
		return fmt.Sprintf("uniswap v3 path 0x%x", in.Path)
	}
	return string(in.Venue())
}
