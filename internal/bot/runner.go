package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/alert"
	"github.com/pulkyeet/liquidation-bot/internal/ledger"
	"github.com/pulkyeet/liquidation-bot/internal/scanner"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

type Scanner interface {
	Scan(ctx context.Context) (scanner.Result, error)
}

type Processor interface {
	Process(ctx context.Context, cycle uint64, venue swap.Venue, snap Snapshot, user common.Address) Attempt
}

type RunnerConfig struct {
	ScanInterval     time.Duration
	CycleTimeout     time.Duration
	ReserveBatchSize int
}

// CycleReport aggregates one cycle.
type CycleReport struct {
	Cycle    uint64
	Venue    swap.Venue
	Scan     scanner.Result
	Attempts []Attempt
	Outcome  Outcome
	Elapsed  time.Duration
}

// Count returns how many attempts ended in o.
func (r CycleReport) Count(o AttemptOutcome) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

type Runner struct {
	scanner  Scanner
	ledger   ledger.Ledger
	pipeline Processor
	fallback *FallbackState
	notifier *alert.Notifier
	cfg      RunnerConfig
	log      *slog.Logger
	cycle    atomic.Uint64
}

func NewRunner(sc Scanner, l ledger.Ledger, p Processor, fb *FallbackState, n *alert.Notifier, cfg RunnerConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		scanner:  sc,
		ledger:   l,
		pipeline: p,
		fallback: fb,
		notifier: n,
		cfg:      cfg,
		log:      log,
	}
}

func (r *Runner) Fallback() *FallbackState { return r.fallback }

// Cycles returns the number of cycles started so far.
func (r *Runner) Cycles() uint64 { return r.cycle.Load() }

// Run executes cycles until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("liquidator started", "venue", r.fallback.Venue(), "interval", r.cfg.ScanInterval)

	for {
		r.Step(ctx)

		select {
		case <-ctx.Done():
			r.log.Info("liquidator stopped", "cycles", r.Cycles())
			return nil
		case <-time.After(r.cfg.ScanInterval):
		}
	}
}

// Step runs one cycle on the current venue and feeds the result to the fallback.
func (r *Runner) Step(ctx context.Context) CycleReport {
	cycle := r.cycle.Add(1)
	venue := r.fallback.Venue()

	cycleCtx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	report, err := r.RunCycle(cycleCtx, cycle, venue)
	cancel()
	if err != nil {
		r.log.Error("cycle failed", "cycle", cycle, "venue", venue, "err", err)
	}

	if ctx.Err() != nil {
		// shutdown mid-cycle says nothing about the venue
		return report
	}

	if r.fallback.Record(report.Outcome) {
		r.switched(ctx, cycle, venue)
	}

	r.log.Info("cycle done",
		"cycle", report.Cycle,
		"venue", venue,
		"outcome", report.Outcome,
		"scanned", report.Scan.Scanned,
		"candidates", len(report.Scan.Candidates),
		"liquidated", report.Count(AttemptLiquidated),
		"failed", report.Count(AttemptExecutionFailed)+report.Count(AttemptVenueError),
		"failures", r.fallback.Failures,
		"elapsed", report.Elapsed.Round(time.Millisecond),
	)
	return report
}

func (r *Runner) switched(ctx context.Context, cycle uint64, from swap.Venue) {
	to := r.fallback.Venue()
	r.log.Warn("swap venue switched", "from", from, "to", to, "failures", r.fallback.Failures)

	level := alert.LevelInfo
	if r.fallback.OnSecondary() {
		level = alert.LevelError
	}
	r.notifier.Send(ctx, alert.Alert{
		Level: level,
		Title: fmt.Sprintf("Swap venue %s -> %s", from, to),
		Text:  fmt.Sprintf("after cycle %d with %d consecutive failures", cycle, r.fallback.Failures),
	})
}

// RunCycle snapshots the reserves, scans for candidates and processes them in
// ascending health factor order. A scan or snapshot error fails the cycle.
func (r *Runner) RunCycle(ctx context.Context, cycle uint64, venue swap.Venue) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{Cycle: cycle, Venue: venue, Outcome: OutcomeFailure}

	reserves, err := ledger.Snapshot(ctx, r.ledger, r.cfg.ReserveBatchSize)
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, fmt.Errorf("reserve snapshot: %w", err)
	}
	closeFactor, err := r.ledger.CloseFactorThreshold(ctx)
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, fmt.Errorf("close factor threshold: %w", err)
	}
	snap := Snapshot{Reserves: reserves, CloseFactor: closeFactor}

	res, err := r.scanner.Scan(ctx)
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, fmt.Errorf("scan: %w", err)
	}
	report.Scan = res

	for _, c := range res.Candidates {
		if ctx.Err() != nil {
			break
		}
		report.Attempts = append(report.Attempts, r.pipeline.Process(ctx, cycle, venue, snap, c.User))
	}

	report.Outcome = classify(report.Attempts)
	report.Elapsed = time.Since(start)
	return report, nil
}

// classify reduces the attempts of a completed cycle to one outcome. A
// liquidation wins. Any venue or execution failure fails the cycle. Otherwise a
// cycle whose only venue trouble was "no defined pools" is benign.
func classify(attempts []Attempt) Outcome {
	failed, benign := 0, 0
	for _, a := range attempts {
		switch {
		case a.Outcome == AttemptLiquidated:
			return OutcomeSuccess
		case a.Outcome == AttemptVenueError, a.Outcome == AttemptExecutionFailed:
			failed++
		case a.NoDefinedPools():
			benign++
		}
	}
	switch {
	case failed > 0:
		return OutcomeFailure
	case benign > 0:
		return OutcomeBenign
	}
	return OutcomeSuccess
}
