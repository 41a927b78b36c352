// Package scanner finds users whose health factor is below the configured threshold.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/directory"
	"github.com/pulkyeet/liquidation-bot/internal/pkg/batch"
)

type HealthReader interface {
	HealthFactor(ctx context.Context, user common.Address) (*big.Int, error)
}

// Ignorer drops addresses that should not be scanned this cycle. Satisfied by storage.IgnoreMemory.
type Ignorer interface {
	Filter(ctx context.Context, addrs []common.Address) ([]common.Address, error)
}

type Config struct {
	HealthFactorThreshold *big.Int // 18 decimals; users strictly below are candidates
	HealthFactorBatchSize int
	LiquidatingBatchSize  int // max users read per scan
}

type Candidate struct {
	User         common.Address
	HealthFactor *big.Int
}

type Result struct {
	Candidates   []Candidate // ascending health factor
	Scanned      int
	Ignored      int
	ReadFailures int
}

type Scanner struct {
	dir     directory.Directory
	reader  HealthReader
	ignores []Ignorer
	cfg     Config
	rng     *rand.Rand
	log     *slog.Logger
}

func New(dir directory.Directory, reader HealthReader, ignores []Ignorer, cfg Config, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	seed := uint64(time.Now().UnixNano())
	return &Scanner{
		dir:     dir,
		reader:  reader,
		ignores: ignores,
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(seed, seed>>1)),
		log:     log,
	}
}

// WithRand replaces the shuffle source.
func (s *Scanner) WithRand(r *rand.Rand) *Scanner {
	s.rng = r
	return s
}

// Scan runs one pass: directory, ignore filter, shuffle, cap, batched health
// factor reads, threshold filter. Failed reads are counted and skipped.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	users, err := s.dir.Users(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}
	total := len(users)

	for _, ig := range s.ignores {
		users, err = ig.Filter(ctx, users)
		if err != nil {
			return Result{}, fmt.Errorf("ignore filter: %w", err)
		}
	}
	res := Result{Ignored: total - len(users)}

	s.rng.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
	if s.cfg.LiquidatingBatchSize > 0 && len(users) > s.cfg.LiquidatingBatchSize {
		users = users[:s.cfg.LiquidatingBatchSize]
	}

	read, failures := s.HealthFactors(ctx, users)
	res.Scanned = len(users)
	res.ReadFailures = failures

	for _, c := range read {
		if c.HealthFactor.Cmp(s.cfg.HealthFactorThreshold) < 0 {
			res.Candidates = append(res.Candidates, c)
		}
	}

	s.log.Debug("scan done",
		"users", total,
		"ignored", res.Ignored,
		"scanned", res.Scanned,
		"read_failures", res.ReadFailures,
		"candidates", len(res.Candidates),
	)
	return res, nil
}

// HealthFactors reads users in batches of HealthFactorBatchSize and returns the
// successful reads sorted by ascending health factor, plus the failure count.
func (s *Scanner) HealthFactors(ctx context.Context, users []common.Address) ([]Candidate, int) {
	hfs := make([]*big.Int, len(users))

	batch.InBatches(len(users), s.cfg.HealthFactorBatchSize, func(i int) {
		hf, err := s.reader.HealthFactor(ctx, users[i])
		if err != nil {
			s.log.Debug("health factor read failed", "user", users[i].Hex(), "err", err)
			return
		}
		hfs[i] = hf
	})

	out := make([]Candidate, 0, len(users))
	failures := 0
	for i, hf := range hfs {
		if hf == nil {
			failures++
			continue
		}
		out = append(out, Candidate{User: users[i], HealthFactor: hf})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].HealthFactor.Cmp(out[j].HealthFactor) < 0 })
	return out, failures
}

// Survey reads every directory user without ignore or threshold filtering.
func (s *Scanner) Survey(ctx context.Context) ([]Candidate, int, error) {
	users, err := s.dir.Users(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	read, failures := s.HealthFactors(ctx, users)
	return read, failures, nil
}
