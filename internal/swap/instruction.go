// Package swap resolves how seized collateral is converted back into the debt
// asset, per venue, and encodes the result for the liquidator contract.
package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Venue string

const (
	VenueOdos      Venue = "odos"
	VenueCurve     Venue = "curve"
	VenueUniswapV3 Venue = "uniswap_v3"
)

const (
	CurveMaxRoute = 11 // token/pool addresses
	CurveMaxHops  = 5
)

// Instruction is one of CurveInstruction, OdosInstruction, UniswapV3Instruction.
type Instruction interface {
	Venue() Venue
	isInstruction()
}

type CurveInstruction struct {
	Route             [CurveMaxRoute]common.Address
	SwapParams        [CurveMaxHops][4]*big.Int // inIndex, outIndex, poolType, numCoins
	SlippageBufferBps uint64
}

type OdosInstruction struct {
	Calldata       []byte
	InputAmount    *big.Int
	ApprovalTarget common.Address // router
	InputToken     common.Address
}

type UniswapV3Instruction struct {
	Path []byte // token(20) | fee(3) | token(20) ...
}

func (CurveInstruction) Venue() Venue     { return VenueCurve }
func (OdosInstruction) Venue() Venue      { return VenueOdos }
func (UniswapV3Instruction) Venue() Venue { return VenueUniswapV3 }

func (CurveInstruction) isInstruction()     {}
func (OdosInstruction) isInstruction()      {}
func (UniswapV3Instruction) isInstruction() {}

// venue ids understood by the liquidator contracts
const (
	payloadCurve     uint8 = 0
	payloadOdos      uint8 = 1
	payloadUniswapV3 uint8 = 2
)

var (
	tUint8, _       = abi.NewType("uint8", "", nil)
	tUint256, _     = abi.NewType("uint256", "", nil)
	tBytes, _       = abi.NewType("bytes", "", nil)
	tAddress, _     = abi.NewType("address", "", nil)
	tCurveRoute, _  = abi.NewType("address[11]", "", nil)
	tCurveParams, _ = abi.NewType("uint256[4][5]", "", nil)

	envelopeArgs = abi.Arguments{{Type: tUint8}, {Type: tBytes}}
	curveArgs    = abi.Arguments{{Type: tCurveRoute}, {Type: tCurveParams}, {Type: tUint256}}
	odosArgs     = abi.Arguments{{Type: tAddress}, {Type: tUint256}, {Type: tBytes}}
	univ3Args    = abi.Arguments{{Type: tBytes}}
)

// EncodePayload produces abi.encode(uint8 venue, bytes inner), the swapData
// argument of liquidate().
func EncodePayload(in Instruction) ([]byte, error) {
	var (
		id    uint8
		inner []byte
		err   error
	)

	switch v := in.(type) {
	case CurveInstruction:
		id = payloadCurve
		var params [CurveMaxHops][4]*big.Int
		for i := range params {
			for j := range params[i] {
				params[i][j] = new(big.Int)
				if v.SwapParams[i][j] != nil {
					params[i][j].Set(v.SwapParams[i][j])
				}
			}
		}
		inner, err = curveArgs.Pack(v.Route, params, new(big.Int).SetUint64(v.SlippageBufferBps))
	case OdosInstruction:
		id = payloadOdos
		amount := v.InputAmount
		if amount == nil {
			amount = new(big.Int)
		}
		inner, err = odosArgs.Pack(v.ApprovalTarget, amount, v.Calldata)
	case UniswapV3Instruction:
		id = payloadUniswapV3
		inner, err = univ3Args.Pack(v.Path)
	default:
		return nil, fmt.Errorf("unknown instruction %T", in)
	}
	if err != nil {
		return nil, fmt.Errorf("pack %s payload: %w", in.Venue(), err)
	}

	return envelopeArgs.Pack(id, inner)
}
