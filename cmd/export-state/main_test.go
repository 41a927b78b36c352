package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/pulkyeet/liquidation-bot/internal/storage"
)

func TestStateRowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.parquet")
	rec := storage.UserStateRecord{
		User:              "0xA11CE00000000000000000000000000000000001",
		HealthFactor:      "903000000000000000",
		ToLiquidateAmount: "800000000",
		ProfitInUSD:       40,
		Profitable:        true,
		Success:           true,
		Cycle:             7,
		Outcome:           "liquidated",
		Venue:             "odos",
	}

	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, new(StateRow), 1)
	require.NoError(t, err)
	require.NoError(t, pw.Write(toRow(rec)))
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(StateRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(1), pr.GetNumRows())
	rows := make([]StateRow, 1)
	require.NoError(t, pr.Read(&rows))
	assert.Equal(t, toRow(rec), rows[0])
}
