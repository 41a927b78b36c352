package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/liquidation-bot/internal/directory"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
)

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func user(i int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
}

// hf in hundredths: 90 -> 0.90
func hf(hundredths int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(wad, big.NewInt(hundredths)), big.NewInt(100))
}

type fakeReader struct {
	hfs  map[common.Address]*big.Int
	fail map[common.Address]bool

	mu                sync.Mutex
	reads             []common.Address
	inFlight, maxSeen atomic.Int32
}

func (f *fakeReader) HealthFactor(_ context.Context, u common.Address) (*big.Int, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.reads = append(f.reads, u)
	f.mu.Unlock()

	if f.fail[u] {
		return nil, errors.New("rpc timeout")
	}
	return f.hfs[u], nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(n int) (directory.Static, *fakeReader) {
	dir := make(directory.Static, n)
	r := &fakeReader{hfs: map[common.Address]*big.Int{}, fail: map[common.Address]bool{}}
	for i := range dir {
		dir[i] = user(i)
		r.hfs[dir[i]] = hf(150)
	}
	return dir, r
}

func newTestScanner(dir directory.Directory, r HealthReader, ignores []Ignorer, cfg Config) *Scanner {
	return New(dir, r, ignores, cfg, quiet()).WithRand(rand.New(rand.NewPCG(1, 2)))
}

func TestScan_KeepsStrictlyBelowThreshold(t *testing.T) {
	dir, r := setup(6)
	r.hfs[user(0)] = hf(90)
	r.hfs[user(1)] = hf(100) // exactly 1.0: safe
	r.hfs[user(2)] = hf(80)
	r.fail[user(3)] = true

	s := newTestScanner(dir, r, nil, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 2})
	res, err := s.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, user(2), res.Candidates[0].User)
	assert.Equal(t, user(0), res.Candidates[1].User)
	assert.Equal(t, 6, res.Scanned)
	assert.Equal(t, 1, res.ReadFailures)
	assert.Zero(t, res.Ignored)
}

func TestScan_BoundsConcurrency(t *testing.T) {
	dir, r := setup(30)
	s := newTestScanner(dir, r, nil, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 4})

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, r.maxSeen.Load(), int32(4))
	assert.Len(t, r.reads, 30)
}

func TestScan_CapIsFairAcrossCycles(t *testing.T) {
	dir, r := setup(20)
	s := newTestScanner(dir, r, nil, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 5, LiquidatingBatchSize: 5})

	seen := map[common.Address]bool{}
	for cycle := 0; cycle < 40; cycle++ {
		r.reads = nil
		res, err := s.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, res.Scanned)
		for _, u := range r.reads {
			seen[u] = true
		}
	}
	assert.Len(t, seen, 20)
}

func TestScan_SkipsIgnoredUntilExpiry(t *testing.T) {
	ctx := context.Background()
	dir, r := setup(3)
	r.hfs[user(0)] = hf(90)

	store, err := storage.OpenIgnoreStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Unix(1_700_000_000, 0)
	mem := storage.NewIgnoreMemory(store, storage.NamespaceNotProfitable, time.Minute).WithClock(func() time.Time { return now })
	require.NoError(t, mem.Put(ctx, user(0)))

	s := newTestScanner(dir, r, []Ignorer{mem}, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 10})

	res, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 1, res.Ignored)
	assert.NotContains(t, r.reads, user(0), "ignored users are filtered before any read")

	now = now.Add(time.Minute + time.Second)
	res, err = s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, user(0), res.Candidates[0].User)
}

type failingDir struct{}

func (failingDir) Users(context.Context) ([]common.Address, error) {
	return nil, errors.New("subgraph down")
}

func TestScan_DirectoryError(t *testing.T) {
	s := newTestScanner(failingDir{}, &fakeReader{}, nil, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 1})
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestSurvey_NoThreshold(t *testing.T) {
	dir, r := setup(4)
	r.hfs[user(2)] = hf(120)
	r.fail[user(3)] = true

	s := newTestScanner(dir, r, nil, Config{HealthFactorThreshold: wad, HealthFactorBatchSize: 2})
	got, failures, err := s.Survey(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, user(2), got[0].User)
	assert.Equal(t, 1, failures)
}
