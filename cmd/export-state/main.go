package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/pulkyeet/liquidation-bot/config"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
)

// StateRow is one user state record in the export.
type StateRow struct {
	User               string  `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	HealthFactor       string  `parquet:"name=health_factor, type=BYTE_ARRAY, convertedtype=UTF8"`
	ToLiquidateAmount  string  `parquet:"name=to_liquidate_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralToken    string  `parquet:"name=collateral_token, type=BYTE_ARRAY, convertedtype=UTF8"`
	DebtToken          string  `parquet:"name=debt_token, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastTrialTimestamp int64   `parquet:"name=last_trial_timestamp, type=INT64"`
	Success            bool    `parquet:"name=success, type=BOOLEAN"`
	ProfitInUSD        float64 `parquet:"name=profit_in_usd, type=DOUBLE"`
	Profitable         bool    `parquet:"name=profitable, type=BOOLEAN"`
	Error              bool    `parquet:"name=error, type=BOOLEAN"`
	ErrorMessage       string  `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	AttemptID          string  `parquet:"name=attempt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cycle              int64   `parquet:"name=cycle, type=INT64"`
	Outcome            string  `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	Venue              string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxHash             string  `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	SeizedCollateral   string  `parquet:"name=seized_collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRow(r storage.UserStateRecord) StateRow {
	return StateRow{
		User:               r.User,
		HealthFactor:       r.HealthFactor,
		ToLiquidateAmount:  r.ToLiquidateAmount,
		CollateralToken:    r.CollateralToken,
		DebtToken:          r.DebtToken,
		LastTrialTimestamp: r.LastTrialTimestamp,
		Success:            r.Success,
		ProfitInUSD:        r.ProfitInUSD,
		Profitable:         r.Profitable,
		Error:              r.Error,
		ErrorMessage:       r.ErrorMessage,
		AttemptID:          r.AttemptID,
		Cycle:              int64(r.Cycle),
		Outcome:            r.Outcome,
		Venue:              r.Venue,
		TxHash:             r.TxHash,
		SeizedCollateral:   r.SeizedCollateral,
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	out := flag.String("out", "user_state.parquet", "output parquet file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	states, err := storage.NewStateStore(cfg.Storage.StateDir)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	records, err := states.List()
	if err != nil {
		log.Fatalf("list records: %v", err)
	}

	fw, err := local.NewLocalFileWriter(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(StateRow), 4)
	if err != nil {
		log.Fatalf("create parquet writer: %v", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err := pw.Write(toRow(r)); err != nil {
			log.Fatalf("write %s: %v", r.User, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		log.Fatalf("finish parquet file: %v", err)
	}

	fmt.Printf("exported %d records from %s to %s\n", len(records), cfg.Storage.StateDir, *out)
}
