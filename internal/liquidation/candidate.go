package liquidation

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/ledger"
)

// usdValue of amount in oracle price units, only used to rank reserves
func usdValue(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || price == nil {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// SelectReserves picks the debt reserve with the largest debt value and the
// collateral-enabled reserve with the largest supply value, never the debt
// reserve itself: a swap from an asset into itself has no route.
func SelectReserves(pos ledger.Position, reserves map[common.Address]ledger.ReserveInfo) (Collateral, Debt, error) {
	var (
		coll              Collateral
		debt              Debt
		bestColl, bestDbt *big.Int
	)

	better := func(v, best *big.Int, a, b common.Address) bool {
		if best == nil {
			return true
		}
		if c := v.Cmp(best); c != 0 {
			return c > 0
		}
		return bytes.Compare(a[:], b[:]) < 0
	}

	for addr, bal := range pos.Balances {
		info, ok := reserves[addr]
		if !ok || bal.Debt == nil || bal.Debt.Sign() <= 0 {
			continue
		}
		v := usdValue(bal.Debt, info.Price, info.Decimals)
		if better(v, bestDbt, addr, debt.Reserve.Address) {
			bestDbt = v
			debt = Debt{Reserve: info, Amount: bal.Debt}
		}
	}
	if bestDbt == nil {
		return Collateral{}, Debt{}, ErrZeroDebt
	}

	for addr, bal := range pos.Balances {
		info, ok := reserves[addr]
		if !ok || addr == debt.Reserve.Address || !info.UsageAsCollateral {
			continue
		}
		if bal.Supply == nil || bal.Supply.Sign() <= 0 {
			continue
		}
		v := usdValue(bal.Supply, info.Price, info.Decimals)
		if better(v, bestColl, addr, coll.Reserve.Address) {
			bestColl = v
			coll = Collateral{Reserve: info, Amount: bal.Supply}
		}
	}
	if bestColl == nil {
		return Collateral{}, Debt{}, &NotProfitableError{Debt: debt.Reserve.Address, Reason: "no collateral-enabled supply"}
	}
	return coll, debt, nil
}

// NewCandidate derives the liquidation candidate for pos. A zero repay amount
// (healthy user or dust) returns ErrZeroDebt.
func NewCandidate(pos ledger.Position, reserves map[common.Address]ledger.ReserveInfo, closeFactorThreshold *big.Int, priceDecimals uint8) (Candidate, error) {
	coll, debt, err := SelectReserves(pos, reserves)
	if err != nil {
		return Candidate{}, err
	}

	repay, err := MaxLiquidationAmount(coll, debt, pos.HealthFactor, closeFactorThreshold)
	if err != nil {
		return Candidate{}, fmt.Errorf("max liquidation amount: %w", err)
	}
	if repay.Sign() == 0 {
		return Candidate{}, ErrZeroDebt
	}

	return Candidate{
		User:         pos.User,
		HealthFactor: pos.HealthFactor,
		Collateral:   coll,
		Debt:         debt,
		RepayAmount:  repay,
		ProfitUSD:    LiquidationProfitUSD(debt.Reserve, debt.Reserve.Price, repay, coll.Reserve.LiquidationBonus, priceDecimals),
	}, nil
}
