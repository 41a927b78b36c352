package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/ledger"
)

var (
	wstETH = common.HexToAddress("0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0")
	stETH  = common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84")
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai    = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	poolA  = common.HexToAddress("0xDC24316b9AE028F1497c275EB9192a3Ea0f67022")
	poolB  = common.HexToAddress("0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7")
	liqC   = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func reserve(addr common.Address, sym string, dec uint8, price int64) ledger.ReserveInfo {
	return ledger.ReserveInfo{
		ReserveConfig: ledger.ReserveConfig{Address: addr, Symbol: sym, Decimals: dec, LiquidationBonus: 10500, UsageAsCollateral: true},
		Price:         big.NewInt(price),
	}
}

// request to sell WETH ($2000) for 1000 USDC
func wethToUSDC() Request {
	return Request{
		Collateral:  reserve(weth, "WETH", 18, 2000_00000000),
		Debt:        reserve(usdc, "USDC", 6, 1_00000000),
		RepayAmount: big.NewInt(1000_000000),
		Executor:    liqC,
	}
}

type fakeUnderlying struct {
	mu    sync.Mutex
	m     map[common.Address]common.Address
	calls int
}

func (f *fakeUnderlying) UnderlyingAsset(_ context.Context, token common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a, ok := f.m[token]
	if !ok {
		return common.Address{}, errors.New("not a vault")
	}
	return a, nil
}
