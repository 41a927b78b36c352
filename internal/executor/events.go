package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pulkyeet/liquidation-bot/internal/eth"
)

// parseLiquidationCall finds the pool's LiquidationCall event for user and returns
// (debtToCover, liquidatedCollateralAmount).
//
// topics: [sig, collateralAsset, debtAsset, user]
// data:   debtToCover | liquidatedCollateralAmount | liquidator | receiveAToken
func parseLiquidationCall(receipt *types.Receipt, user common.Address) (*big.Int, *big.Int, bool) {
	userTopic := common.BytesToHash(user.Bytes())

	for _, log := range receipt.Logs {
		if len(log.Topics) < 4 || log.Topics[0] != eth.LiquidationCallTopic {
			continue
		}
		if log.Topics[3] != userTopic {
			continue
		}
		if len(log.Data) < 64 {
			continue
		}

		debtCovered := new(big.Int).SetBytes(log.Data[0:32])
		seized := new(big.Int).SetBytes(log.Data[32:64])
		return debtCovered, seized, true
	}
	return nil, nil, false
}
