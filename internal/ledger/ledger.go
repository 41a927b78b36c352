// Package ledger reads borrower positions and reserve parameters from an
// Aave-V3 style lending pool, its data provider and price oracle.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReadFailed marks a single failed on-chain read. The caller skips the
// affected user or reserve for this cycle.
var ErrReadFailed = errors.New("ledger read failed")

// WAD is 1.0 in 18-decimal fixed point (health factor units).
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type Ledger interface {
	HealthFactor(ctx context.Context, user common.Address) (*big.Int, error)
	UserReserveBalances(ctx context.Context, user, reserve common.Address) (Balance, error)
	ReservesList(ctx context.Context) ([]common.Address, error)
	ReserveConfig(ctx context.Context, reserve common.Address) (ReserveConfig, error)
	AssetPriceUSD(ctx context.Context, reserve common.Address) (*big.Int, error)
	CloseFactorThreshold(ctx context.Context) (*big.Int, error)
	UnderlyingAsset(ctx context.Context, token common.Address) (common.Address, error)
}

// Balance of one user in one reserve, in the reserve token's smallest unit.
type Balance struct {
	Supply *big.Int
	Debt   *big.Int
}

// ReserveConfig is the static description of a reserve.
type ReserveConfig struct {
	Address           common.Address
	Symbol            string
	Decimals          uint8
	LiquidationBonus  uint64 // bps, 10500 = 5% bonus
	UsageAsCollateral bool
	BorrowingEnabled  bool
	Active            bool
	Frozen            bool
	YieldToken        common.Address // aToken
}

// ReserveInfo is a ReserveConfig with the oracle price read in the same snapshot.
type ReserveInfo struct {
	ReserveConfig
	Price *big.Int // oracle units, priceDecimals
}

// Position is a user's health factor plus every non-empty reserve balance.
type Position struct {
	User         common.Address
	HealthFactor *big.Int
	Balances     map[common.Address]Balance
}

// FormatUnits renders amount / 10^decimals with at most 6 fractional digits.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(amount, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return r.FloatString(int(min(decimals, 6)))
}
