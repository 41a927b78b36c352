package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulkyeet/liquidation-bot/config"
	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/app"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	limit := flag.Int("limit", 25, "rows to print")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, cfg.Log.Logger(os.Stderr))
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	start := time.Now()
	users, failures, err := a.Scanner.Survey(ctx)
	if err != nil {
		log.Fatalf("survey: %v", err)
	}

	below := 0
	for _, u := range users {
		if ledger.IsLiquidatable(u.HealthFactor) {
			below++
		}
	}

	memories := []*storage.IgnoreMemory{a.NotProfitable, a.Errored}

	fmt.Printf("read %d users in %s (%d failed), %d below 1.0\n",
		len(users), time.Since(start).Round(time.Millisecond), failures, below)
	for _, m := range memories {
		fmt.Printf("ignore %s: %s\n", m.Namespace(), m.TTL())
	}
	fmt.Println()

	n := max(0, min(*limit, len(users)))
	rows := make([][]string, 0, n)
	for i, u := range users[:n] {
		ignored := ""
		for _, m := range memories {
			if ok, _ := m.IsIgnored(ctx, u.User); ok {
				ignored = m.Namespace()
				break
			}
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), u.User.Hex(), ledger.FormatUnits(u.HealthFactor, 18), ignored})
	}
	alert.RenderTable(os.Stdout, []string{"#", "user", "health factor", "ignored"}, rows)
}
