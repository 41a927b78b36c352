package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/executor"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/liquidation"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

var (
	alice    = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob      = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	collAddr = common.HexToAddress("0xc0c0000000000000000000000000000000000001")
	debtAddr = common.HexToAddress("0xdeb0000000000000000000000000000000000001")
	loanAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")

	closeFactor = wad("0.95")
)

func wad(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic(s)
	}
	r.Mul(r, new(big.Rat).SetInt(ledger.WAD))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

func units(n int64, dec int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil))
}

// 18-decimal collateral at $0.85 with a 5% bonus, 6-decimal debt at $1
func testReserves() map[common.Address]ledger.ReserveInfo {
	return map[common.Address]ledger.ReserveInfo{
		collAddr: {
			ReserveConfig: ledger.ReserveConfig{Address: collAddr, Symbol: "COLL", Decimals: 18, LiquidationBonus: 10500, UsageAsCollateral: true, Active: true},
			Price:         big.NewInt(85_000_000),
		},
		debtAddr: {
			ReserveConfig: ledger.ReserveConfig{Address: debtAddr, Symbol: "USDC", Decimals: 6, LiquidationBonus: 10500, BorrowingEnabled: true, Active: true},
			Price:         big.NewInt(100_000_000),
		},
	}
}

type fakeLedger struct {
	mu        sync.Mutex
	hf        map[common.Address]*big.Int
	balances  map[common.Address]map[common.Address]ledger.Balance
	reserves  map[common.Address]ledger.ReserveInfo
	hfErr     error
	reserveEr error
	cft       *big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		hf:       map[common.Address]*big.Int{},
		balances: map[common.Address]map[common.Address]ledger.Balance{},
		reserves: testReserves(),
		cft:      closeFactor,
	}
}

// underwater gives user 1000 COLL against 800 USDC at hf.
func (f *fakeLedger) underwater(user common.Address, hf *big.Int) {
	f.hf[user] = hf
	f.balances[user] = map[common.Address]ledger.Balance{
		collAddr: {Supply: units(1000, 18), Debt: big.NewInt(0)},
		debtAddr: {Supply: big.NewInt(0), Debt: units(800, 6)},
	}
}

func (f *fakeLedger) HealthFactor(_ context.Context, user common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hfErr != nil {
		return nil, f.hfErr
	}
	hf, ok := f.hf[user]
	if !ok {
		return nil, fmt.Errorf("%w: unknown user", ledger.ErrReadFailed)
	}
	return hf, nil
}

func (f *fakeLedger) UserReserveBalances(_ context.Context, user, reserve common.Address) (ledger.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[user][reserve], nil
}

func (f *fakeLedger) ReservesList(context.Context) ([]common.Address, error) {
	if f.reserveEr != nil {
		return nil, f.reserveEr
	}
	return []common.Address{collAddr, debtAddr}, nil
}

func (f *fakeLedger) ReserveConfig(_ context.Context, reserve common.Address) (ledger.ReserveConfig, error) {
	return f.reserves[reserve].ReserveConfig, nil
}

func (f *fakeLedger) AssetPriceUSD(_ context.Context, reserve common.Address) (*big.Int, error) {
	return f.reserves[reserve].Price, nil
}

func (f *fakeLedger) CloseFactorThreshold(context.Context) (*big.Int, error) { return f.cft, nil }

func (f *fakeLedger) UnderlyingAsset(_ context.Context, token common.Address) (common.Address, error) {
	return token, nil
}

type fakeResolver struct {
	err    error
	calls  int
	venues []swap.Venue
	last   swap.Request
}

func (f *fakeResolver) Resolve(_ context.Context, venue swap.Venue, req swap.Request) (swap.Instruction, error) {
	f.calls++
	f.venues = append(f.venues, venue)
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return swap.UniswapV3Instruction{Path: []byte{1}}, nil
}

type fakeExecutor struct {
	err   error
	calls int
}

func (f *fakeExecutor) ContractFor(common.Address) (common.Address, executor.Mode) {
	return loanAddr, executor.ModeFlashLoan
}

func (f *fakeExecutor) Unstake(common.Address) bool { return false }

func (f *fakeExecutor) Execute(_ context.Context, c liquidation.Candidate, _ swap.Instruction) (*executor.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Result{
		TxHash:           common.HexToHash("0x01"),
		Mode:             executor.ModeFlashLoan,
		Contract:         loanAddr,
		SeizedCollateral: units(988, 18),
		DebtCovered:      c.RepayAmount,
	}, nil
}

type fakeMemory struct{ put []common.Address }

func (f *fakeMemory) Put(_ context.Context, addr common.Address) error {
	f.put = append(f.put, addr)
	return nil
}

type fakeStates struct{ recs []storage.UserStateRecord }

func (f *fakeStates) Write(rec storage.UserStateRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

type recordSink struct{ alerts []alert.Alert }

func (r *recordSink) Notify(_ context.Context, a alert.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type pipelineFixture struct {
	ledger        *fakeLedger
	resolver      *fakeResolver
	executor      *fakeExecutor
	notProfitable *fakeMemory
	errored       *fakeMemory
	states        *fakeStates
	sink          *recordSink
	pipeline      *Pipeline
}

func newPipelineFixture(threshold float64) *pipelineFixture {
	f := &pipelineFixture{
		ledger:        newFakeLedger(),
		resolver:      &fakeResolver{},
		executor:      &fakeExecutor{},
		notProfitable: &fakeMemory{},
		errored:       &fakeMemory{},
		states:        &fakeStates{},
		sink:          &recordSink{},
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Ledger:        f.ledger,
		Resolver:      f.resolver,
		Executor:      f.executor,
		NotProfitable: f.notProfitable,
		Errored:       f.errored,
		States:        f.states,
		Notifier:      alert.NewNotifier(f.sink, nil),
	}, PipelineConfig{ProfitableThresholdUSD: threshold, PriceDecimals: 8, ReserveBatchSize: 2}, nil)
	f.pipeline.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return f
}

func (f *pipelineFixture) process(user common.Address) Attempt {
	snap := Snapshot{Reserves: testReserves(), CloseFactor: closeFactor}
	return f.pipeline.Process(context.Background(), 7, swap.VenueOdos, snap, user)
}

func TestProcess_Liquidated(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, wad("0.903"))

	a := f.process(alice)
	require.Equal(t, AttemptLiquidated, a.Outcome)
	require.NoError(t, a.Err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, big.NewInt(800_000_000), a.Candidate.RepayAmount)

	assert.Equal(t, collAddr, f.resolver.last.Collateral.Address)
	assert.Equal(t, debtAddr, f.resolver.last.Debt.Address)
	assert.Equal(t, loanAddr, f.resolver.last.Executor)
	assert.Equal(t, 1, f.executor.calls)

	assert.Empty(t, f.notProfitable.put)
	assert.Empty(t, f.errored.put)

	require.Len(t, f.states.recs, 1)
	rec := f.states.recs[0]
	assert.True(t, rec.Success)
	assert.False(t, rec.Error)
	assert.Equal(t, "liquidated", rec.Outcome)
	assert.Equal(t, "800000000", rec.ToLiquidateAmount)
	assert.InDelta(t, 40.0, rec.ProfitInUSD, 1e-9)
	assert.Equal(t, int64(1_700_000_000), rec.LastTrialTimestamp)
	assert.Equal(t, a.ID, rec.AttemptID)
	assert.Equal(t, uint64(7), rec.Cycle)

	require.Len(t, f.sink.alerts, 1)
	assert.Equal(t, alert.LevelInfo, f.sink.alerts[0].Level)
	assert.Contains(t, f.sink.alerts[0].Text, "800.000000 USDC")
}

func TestProcess_SafeLeavesNoTrace(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, ledger.WAD)

	a := f.process(alice)
	assert.Equal(t, AttemptSafe, a.Outcome)
	assert.Zero(t, f.resolver.calls)
	assert.Empty(t, f.states.recs)
	assert.Empty(t, f.notProfitable.put)
	assert.Empty(t, f.sink.alerts)
}

func TestProcess_ReadFailed(t *testing.T) {
	f := newPipelineFixture(10)

	a := f.process(bob)
	assert.Equal(t, AttemptReadFailed, a.Outcome)
	assert.ErrorIs(t, a.Err, ledger.ErrReadFailed)
	assert.Empty(t, f.notProfitable.put)
	assert.Empty(t, f.errored.put)

	require.Len(t, f.states.recs, 1)
	rec := f.states.recs[0]
	assert.Equal(t, bob.Hex(), rec.User)
	assert.Equal(t, "read_failed", rec.Outcome)
	assert.True(t, rec.Error)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.ErrorMessage, "unknown user")
	assert.Equal(t, uint64(7), rec.Cycle)
	assert.Equal(t, int64(1_700_000_000), rec.LastTrialTimestamp)
	assert.Empty(t, rec.HealthFactor)
	assert.Empty(t, rec.CollateralToken)
	assert.Empty(t, rec.ToLiquidateAmount)
}

func TestProcess_NotProfitable(t *testing.T) {
	f := newPipelineFixture(50)
	f.ledger.underwater(alice, wad("0.903"))

	a := f.process(alice)
	assert.Equal(t, AttemptNotProfitable, a.Outcome)
	assert.ErrorIs(t, a.Err, liquidation.ErrNotProfitable)
	assert.Zero(t, f.resolver.calls)
	assert.Equal(t, []common.Address{alice}, f.notProfitable.put)

	require.Len(t, f.states.recs, 1)
	assert.False(t, f.states.recs[0].Profitable)
	assert.True(t, f.states.recs[0].Error)
	assert.Empty(t, f.sink.alerts)
}

func TestProcess_NoRouteIsIgnored(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, wad("0.903"))
	f.resolver.err = swap.ErrNoDefinedPools

	a := f.process(alice)
	assert.Equal(t, AttemptNoRoute, a.Outcome)
	assert.True(t, a.NoDefinedPools())
	assert.Zero(t, f.executor.calls)
	assert.Equal(t, []common.Address{alice}, f.notProfitable.put)
	assert.Empty(t, f.sink.alerts)
}

func TestProcess_VenueErrorNotIgnored(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, wad("0.903"))
	f.resolver.err = errors.New("odos quote: 502")

	a := f.process(alice)
	assert.Equal(t, AttemptVenueError, a.Outcome)
	assert.False(t, a.NoDefinedPools())
	assert.Empty(t, f.notProfitable.put)
	assert.Empty(t, f.errored.put)
	require.Len(t, f.states.recs, 1)
	assert.Equal(t, "venue_error", f.states.recs[0].Outcome)
}

func TestProcess_ApprovalFailureIsVenueError(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, wad("0.903"))
	f.executor.err = fmt.Errorf("%w: reverted", executor.ErrApprovalFailed)

	a := f.process(alice)
	assert.Equal(t, AttemptVenueError, a.Outcome)
	assert.Empty(t, f.errored.put)
}

func TestProcess_ExecutionFailed(t *testing.T) {
	f := newPipelineFixture(10)
	f.ledger.underwater(alice, wad("0.903"))
	f.executor.err = fmt.Errorf("%w: preflight reverted", executor.ErrExecutionFailed)

	a := f.process(alice)
	assert.Equal(t, AttemptExecutionFailed, a.Outcome)
	assert.Equal(t, []common.Address{alice}, f.errored.put)
	assert.Empty(t, f.notProfitable.put)

	require.Len(t, f.sink.alerts, 1)
	assert.Equal(t, alert.LevelError, f.sink.alerts[0].Level)
	require.Len(t, f.sink.alerts[0].Attachments, 1)
	assert.Equal(t, []string{"field", "value"}, f.sink.alerts[0].Attachments[0].Header)

	require.Len(t, f.states.recs, 1)
	assert.Contains(t, f.states.recs[0].ErrorMessage, "preflight reverted")
}
