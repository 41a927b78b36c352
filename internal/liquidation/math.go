package liquidation

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/pulkyeet/liquidation-bot/internal/ledger"
)

var errOverflow = errors.New("uint256 overflow")

func u(x *big.Int) (*uint256.Int, error) {
	if x == nil || x.Sign() < 0 {
		return nil, errors.New("negative or nil amount")
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return nil, errOverflow
	}
	return v, nil
}

func pow10(dec uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(dec)))
}

// mulAll multiplies every factor, failing on overflow instead of wrapping.
func mulAll(factors ...*uint256.Int) (*uint256.Int, error) {
	acc := uint256.NewInt(1)
	for _, f := range factors {
		if _, overflow := acc.MulOverflow(acc, f); overflow {
			return nil, errOverflow
		}
	}
	return acc, nil
}

// MaxLiquidationAmount returns the debt amount (debt token smallest unit) that can
// be repaid against collateral.
//
// hf >= 1 gives 0. Otherwise half the debt, or all of it below closeFactorThreshold,
// capped so that repay value plus the liquidation bonus does not exceed the
// collateral value held in that reserve.
func MaxLiquidationAmount(collateral Collateral, debt Debt, healthFactor, closeFactorThreshold *big.Int) (*big.Int, error) {
	if healthFactor.Cmp(ledger.WAD) >= 0 {
		return big.NewInt(0), nil
	}
	if debt.Amount == nil || debt.Amount.Sign() == 0 {
		return big.NewInt(0), nil
	}

	coll, dr := collateral.Reserve, debt.Reserve
	bonus := coll.LiquidationBonus
	if bonus <= BaseBps {
		return nil, notProfitable(coll, dr, "liquidation bonus %d bps does not exceed par", bonus)
	}
	if coll.Price == nil || coll.Price.Sign() == 0 || dr.Price == nil || dr.Price.Sign() == 0 {
		return nil, notProfitable(coll, dr, "missing oracle price")
	}

	repay := new(big.Int).Set(debt.Amount)
	if closeFactorThreshold == nil || healthFactor.Cmp(closeFactorThreshold) >= 0 {
		repay.Rsh(repay, 1)
	}

	repayU, err := u(repay)
	if err != nil {
		return nil, err
	}
	collAmt, err := u(collateral.Amount)
	if err != nil {
		return nil, err
	}
	collPrice, err := u(coll.Price)
	if err != nil {
		return nil, err
	}
	debtPrice, err := u(dr.Price)
	if err != nil {
		return nil, err
	}

	// repay*debtPrice*bonus/10^debtDec vs collAmt*collPrice*BASE/10^collDec,
	// cross multiplied so nothing is divided before the comparison
	denom, err := mulAll(debtPrice, uint256.NewInt(bonus), pow10(coll.Decimals))
	if err != nil {
		return nil, err
	}
	lhs, err := mulAll(repayU, denom)
	if err != nil {
		return nil, err
	}
	rhs, err := mulAll(collAmt, collPrice, uint256.NewInt(BaseBps), pow10(dr.Decimals))
	if err != nil {
		return nil, err
	}

	if lhs.Cmp(rhs) <= 0 {
		return repay, nil
	}

	capped := new(uint256.Int).Div(rhs, denom)
	if capped.IsZero() {
		return nil, notProfitable(coll, dr, "collateral too small to cover the liquidation bonus")
	}
	return capped.ToBig(), nil
}

// LiquidationProfitUSD is repay value times the bonus above par, in USD.
// Integer math throughout; the conversion to float happens once at the end.
func LiquidationProfitUSD(debt ledger.ReserveInfo, debtPriceUSD, repay *big.Int, bonusBps uint64, priceDecimals uint8) float64 {
	if bonusBps <= BaseBps || repay == nil || debtPriceUSD == nil {
		return 0
	}

	num := new(big.Int).Mul(repay, debtPriceUSD)
	num.Mul(num, new(big.Int).SetUint64(bonusBps-BaseBps))

	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(debt.Decimals)+int64(priceDecimals)), nil)
	den.Mul(den, big.NewInt(BaseBps))

	f, _ := new(big.Rat).SetFrac(num, den).Float64()
	return f
}
