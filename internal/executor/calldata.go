package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/eth"
	"github.com/pulkyeet/liquidation-bot/internal/liquidation"
)

var (
	liquidatorABI = mustABI(eth.LiquidatorABI)
	erc20ABI      = mustABI(eth.ERC20ABI)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// liquidateCalldata packs liquidate(debtYieldToken, collateralYieldToken, user,
// debtToCover, receiveYieldToken, unstake, swapData). The bot always takes the
// underlying, never the yield token.
func liquidateCalldata(c liquidation.Candidate, unstake bool, payload []byte) ([]byte, error) {
	data, err := liquidatorABI.Pack("liquidate",
		c.Debt.Reserve.YieldToken,
		c.Collateral.Reserve.YieldToken,
		c.User,
		c.RepayAmount,
		false,
		unstake,
		payload,
	)
	if err != nil {
		return nil, fmt.Errorf("pack liquidate: %w", err)
	}
	return data, nil
}

func approveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

func allowanceCalldata(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}
