package liquidation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/ledger"
)

// BaseBps is 100% in basis points.
const BaseBps = 10000

var (
	// ErrNotProfitable matches any *NotProfitableError.
	ErrNotProfitable = errors.New("liquidation not profitable")
	// ErrZeroDebt: the user is below threshold but nothing can be repaid.
	ErrZeroDebt = errors.New("zero debt to liquidate")
)

// NotProfitableError carries the reserve pair that failed the profitability check.
type NotProfitableError struct {
	Collateral common.Address
	Debt       common.Address
	Reason     string
}

func (e *NotProfitableError) Error() string {
	return fmt.Sprintf("not profitable (collateral %s, debt %s): %s", e.Collateral.Hex(), e.Debt.Hex(), e.Reason)
}

func (e *NotProfitableError) Is(target error) bool {
	return target == ErrNotProfitable
}

func notProfitable(coll, debt ledger.ReserveInfo, format string, args ...any) error {
	return &NotProfitableError{Collateral: coll.Address, Debt: debt.Address, Reason: fmt.Sprintf(format, args...)}
}

// Collateral is the reserve the liquidator seizes, with the user's supply in it.
type Collateral struct {
	Reserve ledger.ReserveInfo
	Amount  *big.Int
}

// Debt is the reserve the liquidator repays, with the user's debt in it.
type Debt struct {
	Reserve ledger.ReserveInfo
	Amount  *big.Int
}

// Candidate is derived once per user per cycle and not mutated afterwards.
type Candidate struct {
	User         common.Address
	HealthFactor *big.Int
	Collateral   Collateral
	Debt         Debt
	RepayAmount  *big.Int // debt token smallest unit
	ProfitUSD    float64
}

// Profitable reports whether the expected profit clears thresholdUSD.
func (c Candidate) Profitable(thresholdUSD float64) bool {
	return c.ProfitUSD > 0 && c.ProfitUSD >= thresholdUSD
}
