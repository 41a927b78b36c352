package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/ledger"
)

var (
	// ErrNoRoute: the venue cannot convert collateral into the debt asset.
	ErrNoRoute = errors.New("no swap route available")
	// ErrNoDefinedPools is the quote provider's thin-liquidity answer. It also matches ErrNoRoute.
	ErrNoDefinedPools = fmt.Errorf("no defined pools: %w", ErrNoRoute)
)

// Request describes the swap of seized collateral back into the repaid debt asset.
type Request struct {
	Collateral  ledger.ReserveInfo
	Debt        ledger.ReserveInfo
	RepayAmount *big.Int
	Unstake     bool           // collateral is unwrapped to its underlying before the swap
	Executor    common.Address // contract that will hold the collateral and run the swap
}

type Resolver interface {
	Resolve(ctx context.Context, req Request) (Instruction, error)
}

// UnderlyingResolver resolves one level of ERC-4626 wrapping. Satisfied by ledger.Client.
type UnderlyingResolver interface {
	UnderlyingAsset(ctx context.Context, token common.Address) (common.Address, error)
}

// Router dispatches to the resolver registered for a venue.
type Router struct {
	resolvers map[Venue]Resolver
}

func NewRouter(resolvers map[Venue]Resolver) *Router {
	return &Router{resolvers: resolvers}
}

func (r *Router) Resolve(ctx context.Context, venue Venue, req Request) (Instruction, error) {
	res, ok := r.resolvers[venue]
	if !ok {
		return nil, fmt.Errorf("venue %q not configured", venue)
	}
	return res.Resolve(ctx, req)
}

// inputToken is the token actually sold: the collateral, or its underlying when unstaking.
func inputToken(ctx context.Context, u UnderlyingResolver, req Request) (common.Address, error) {
	if !req.Unstake {
		return req.Collateral.Address, nil
	}
	if u == nil {
		return common.Address{}, fmt.Errorf("unstake %s: no underlying resolver", req.Collateral.Symbol)
	}
	underlying, err := u.UnderlyingAsset(ctx, req.Collateral.Address)
	if err != nil {
		return common.Address{}, fmt.Errorf("underlying of %s: %w", req.Collateral.Symbol, err)
	}
	return underlying, nil
}

// collateralForRepay converts the repay amount into collateral units at oracle
// prices, plus bufferBps on top.
func collateralForRepay(req Request, bufferBps uint64) (*big.Int, error) {
	if req.Collateral.Price == nil || req.Collateral.Price.Sign() == 0 || req.Debt.Price == nil {
		return nil, errors.New("missing oracle price")
	}
	ten := big.NewInt(10)

	num := new(big.Int).Mul(req.RepayAmount, req.Debt.Price)
	num.Mul(num, new(big.Int).Exp(ten, big.NewInt(int64(req.Collateral.Decimals)), nil))
	num.Mul(num, new(big.Int).SetUint64(10000+bufferBps))

	den := new(big.Int).Mul(req.Collateral.Price, new(big.Int).Exp(ten, big.NewInt(int64(req.Debt.Decimals)), nil))
	den.Mul(den, big.NewInt(10000))

	return num.Quo(num, den), nil
}
