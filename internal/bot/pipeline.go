package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/executor"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/liquidation"
	"github.com/pulkyeet/liquidation-bot/internal/storage"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

// AttemptOutcome is what happened to one candidate in one cycle.
type AttemptOutcome string

const (
	AttemptSafe            AttemptOutcome = "safe"
	AttemptReadFailed      AttemptOutcome = "read_failed"
	AttemptZeroDebt        AttemptOutcome = "zero_debt"
	AttemptNotProfitable   AttemptOutcome = "not_profitable"
	AttemptNoRoute         AttemptOutcome = "no_route"
	AttemptVenueError      AttemptOutcome = "venue_error"
	AttemptExecutionFailed AttemptOutcome = "execution_failed"
	AttemptLiquidated      AttemptOutcome = "liquidated"
)

type Resolver interface {
	Resolve(ctx context.Context, venue swap.Venue, req swap.Request) (swap.Instruction, error)
}

type Executor interface {
	ContractFor(debt common.Address) (common.Address, executor.Mode)
	Unstake(collateral common.Address) bool
	Execute(ctx context.Context, c liquidation.Candidate, in swap.Instruction) (*executor.Result, error)
}

type Memory interface {
	Put(ctx context.Context, addr common.Address) error
}

type StateWriter interface {
	Write(rec storage.UserStateRecord) error
}

type PipelineConfig struct {
	ProfitableThresholdUSD float64
	PriceDecimals          uint8
	ReserveBatchSize       int
}

// Snapshot is the per-cycle protocol view shared by every candidate.
type Snapshot struct {
	Reserves    map[common.Address]ledger.ReserveInfo
	CloseFactor *big.Int
}

type Attempt struct {
	ID        string
	Cycle     uint64
	User      common.Address
	Venue     swap.Venue
	Outcome   AttemptOutcome
	Candidate *liquidation.Candidate
	Result    *executor.Result
	Err       error
}

// NoDefinedPools reports the quote provider's thin-liquidity answer.
func (a Attempt) NoDefinedPools() bool {
	return errors.Is(a.Err, swap.ErrNoDefinedPools)
}

// Pipeline takes one candidate from position read to liquidation.
type Pipeline struct {
	ledger        ledger.Ledger
	resolver      Resolver
	executor      Executor
	notProfitable Memory
	errored       Memory
	states        StateWriter
	notifier      *alert.Notifier
	cfg           PipelineConfig
	log           *slog.Logger
	now           func() time.Time
}

type PipelineDeps struct {
	Ledger        ledger.Ledger
	Resolver      Resolver
	Executor      Executor
	NotProfitable Memory // short TTL
	Errored       Memory // long TTL
	States        StateWriter
	Notifier      *alert.Notifier
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		ledger:        deps.Ledger,
		resolver:      deps.Resolver,
		executor:      deps.Executor,
		notProfitable: deps.NotProfitable,
		errored:       deps.Errored,
		states:        deps.States,
		notifier:      deps.Notifier,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
	}
}

// Process evaluates user and, if worthwhile, liquidates it on venue. It never
// returns an error: every failure is an outcome on the attempt.
func (p *Pipeline) Process(ctx context.Context, cycle uint64, venue swap.Venue, snap Snapshot, user common.Address) Attempt {
	a := p.evaluate(ctx, cycle, venue, snap, user)

	log := p.log.With("cycle", cycle, "user", user.Hex(), "outcome", a.Outcome)
	if a.Candidate != nil {
		log = log.With(
			"collateral", a.Candidate.Collateral.Reserve.Symbol,
			"debt", a.Candidate.Debt.Reserve.Symbol,
		)
	}
	switch a.Outcome {
	case AttemptSafe:
		log.Debug("position safe")
	case AttemptLiquidated:
		log.Info("liquidated", "venue", venue, "tx", a.Result.TxHash.Hex())
	case AttemptExecutionFailed, AttemptVenueError:
		log.Warn("liquidation attempt failed", "venue", venue, "err", a.Err)
	default:
		log.Info("candidate skipped", "venue", venue, "err", a.Err)
	}

	p.remember(ctx, a)
	p.record(a, snap)
	p.alert(ctx, a)
	return a
}

func (p *Pipeline) evaluate(ctx context.Context, cycle uint64, venue swap.Venue, snap Snapshot, user common.Address) Attempt {
	a := Attempt{ID: uuid.New().String(), Cycle: cycle, User: user, Venue: venue}

	pos, err := ledger.ReadPosition(ctx, p.ledger, user, snap.Reserves, p.cfg.ReserveBatchSize)
	if err != nil {
		a.Outcome, a.Err = AttemptReadFailed, err
		return a
	}
	if !ledger.IsLiquidatable(pos.HealthFactor) {
		a.Outcome = AttemptSafe
		return a
	}

	cand, err := liquidation.NewCandidate(pos, snap.Reserves, snap.CloseFactor, p.cfg.PriceDecimals)
	switch {
	case errors.Is(err, liquidation.ErrZeroDebt):
		a.Outcome, a.Err = AttemptZeroDebt, err
		return a
	case err != nil:
		a.Outcome, a.Err = AttemptNotProfitable, err
		return a
	}
	a.Candidate = &cand

	if !cand.Profitable(p.cfg.ProfitableThresholdUSD) {
		a.Outcome = AttemptNotProfitable
		a.Err = &liquidation.NotProfitableError{
			Collateral: cand.Collateral.Reserve.Address,
			Debt:       cand.Debt.Reserve.Address,
			Reason:     fmt.Sprintf("profit $%.2f below $%.2f", cand.ProfitUSD, p.cfg.ProfitableThresholdUSD),
		}
		return a
	}

	contract, _ := p.executor.ContractFor(cand.Debt.Reserve.Address)
	in, err := p.resolver.Resolve(ctx, venue, swap.Request{
		Collateral:  cand.Collateral.Reserve,
		Debt:        cand.Debt.Reserve,
		RepayAmount: cand.RepayAmount,
		Unstake:     p.executor.Unstake(cand.Collateral.Reserve.Address),
		Executor:    contract,
	})
	switch {
	case errors.Is(err, swap.ErrNoRoute):
		a.Outcome, a.Err = AttemptNoRoute, err
		return a
	case err != nil:
		a.Outcome, a.Err = AttemptVenueError, err
		return a
	}

	res, err := p.executor.Execute(ctx, cand, in)
	switch {
	case errors.Is(err, executor.ErrApprovalFailed):
		a.Outcome, a.Err = AttemptVenueError, err
	case err != nil:
		a.Outcome, a.Err = AttemptExecutionFailed, err
	default:
		a.Outcome, a.Result = AttemptLiquidated, res
	}
	return a
}

// remember puts skipped users in the matching ignore memory. Venue errors are
// not remembered so the fallback venue can retry them.
func (p *Pipeline) remember(ctx context.Context, a Attempt) {
	var m Memory
	switch a.Outcome {
	case AttemptZeroDebt, AttemptNotProfitable, AttemptNoRoute:
		m = p.notProfitable
	case AttemptExecutionFailed:
		m = p.errored
	}
	if m == nil {
		return
	}
	if err := m.Put(ctx, a.User); err != nil {
		p.log.Error("ignore memory write failed", "user", a.User.Hex(), "err", err)
	}
}

func (p *Pipeline) record(a Attempt, snap Snapshot) {
	if p.states == nil || a.Outcome == AttemptSafe {
		return
	}

	rec := storage.UserStateRecord{
		User:               a.User.Hex(),
		LastTrialTimestamp: p.now().Unix(),
		AttemptID:          a.ID,
		Cycle:              a.Cycle,
		Outcome:            string(a.Outcome),
		Venue:              string(a.Venue),
		Success:            a.Outcome == AttemptLiquidated,
		Error:              a.Err != nil,
	}
	if a.Err != nil {
		rec.ErrorMessage = a.Err.Error()
	}
	if c := a.Candidate; c != nil {
		rec.HealthFactor = c.HealthFactor.String()
		rec.ToLiquidateAmount = c.RepayAmount.String()
		rec.CollateralToken = c.Collateral.Reserve.Address.Hex()
		rec.DebtToken = c.Debt.Reserve.Address.Hex()
		rec.ProfitInUSD = c.ProfitUSD
		rec.Profitable = c.Profitable(p.cfg.ProfitableThresholdUSD)
	}
	if r := a.Result; r != nil {
		rec.TxHash = r.TxHash.Hex()
		if r.SeizedCollateral != nil {
			rec.SeizedCollateral = r.SeizedCollateral.String()
		}
	}

	if err := p.states.Write(rec); err != nil {
		p.log.Error("state write failed", "user", a.User.Hex(), "err", err)
	}
}

func (p *Pipeline) alert(ctx context.Context, a Attempt) {
	if a.Outcome != AttemptLiquidated && a.Outcome != AttemptExecutionFailed {
		return
	}
	c := a.Candidate

	msg := alert.Alert{ID: a.ID, Level: alert.LevelInfo}
	if a.Outcome == AttemptLiquidated {
		msg.Title = fmt.Sprintf("Liquidated %s", a.User.Hex())
		msg.Text = fmt.Sprintf("repaid %s %s against %s via %s, expected profit $%.2f, tx %s",
			ledger.FormatUnits(c.RepayAmount, c.Debt.Reserve.Decimals), c.Debt.Reserve.Symbol,
			c.Collateral.Reserve.Symbol, a.Venue, c.ProfitUSD, a.Result.TxHash.Hex())
	} else {
		msg.Level = alert.LevelError
		msg.Title = fmt.Sprintf("Liquidation failed for %s", a.User.Hex())
		msg.Text = fmt.Sprintf("venue %s: %v", a.Venue, a.Err)
	}

	rows := [][]string{
		{"health_factor", ledger.FormatUnits(c.HealthFactor, 18)},
		{"collateral", c.Collateral.Reserve.Symbol},
		{"debt", c.Debt.Reserve.Symbol},
		{"repay", ledger.FormatUnits(c.RepayAmount, c.Debt.Reserve.Decimals)},
		{"profit_usd", fmt.Sprintf("%.2f", c.ProfitUSD)},
	}
	if r := a.Result; r != nil && r.SeizedCollateral != nil {
		rows = append(rows, []string{"seized", ledger.FormatUnits(r.SeizedCollateral, c.Collateral.Reserve.Decimals)})
	}
	msg.Attachments = []alert.Attachment{{Name: "attempt.csv", Header: []string{"field", "value"}, Rows: rows}}

	p.notifier.Send(ctx, msg)
}
