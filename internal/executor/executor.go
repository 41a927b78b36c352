package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pulkyeet/liquidation-bot/internal/liquidation"
	"github.com/pulkyeet/liquidation-bot/internal/swap"
)

var (
	// ErrExecutionFailed: the liquidation reverted in preflight, on submission or on chain.
	ErrExecutionFailed = errors.New("liquidation execution failed")
	// ErrApprovalFailed: a token approval needed by the swap venue did not go through.
	ErrApprovalFailed = errors.New("token approval failed")
)

// Chain is what the executor needs from eth.Client.
type Chain interface {
	Address() common.Address
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	SendContractTx(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type Mode string

const (
	ModeFlashLoan Mode = "flash_loan"
	ModeFlashMint Mode = "flash_mint"
)

type Config struct {
	FlashLoanLiquidator common.Address
	FlashMintLiquidator common.Address
	FlashMintAsset      common.Address // zero disables flash mint mode
	UnstakeTokens       []common.Address
}

type Result struct {
	TxHash           common.Hash
	Mode             Mode
	Contract         common.Address
	SeizedCollateral *big.Int // nil if the event was not found
	DebtCovered      *big.Int
	GasUsed          uint64
}

type Executor struct {
	chain   Chain
	cfg     Config
	unstake map[common.Address]bool
	log     *slog.Logger
}

func New(chain Chain, cfg Config, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	unstake := make(map[common.Address]bool, len(cfg.UnstakeTokens))
	for _, t := range cfg.UnstakeTokens {
		unstake[t] = true
	}
	return &Executor{chain: chain, cfg: cfg, unstake: unstake, log: log}
}

// ContractFor picks the execution mode from the debt asset alone.
func (e *Executor) ContractFor(debt common.Address) (common.Address, Mode) {
	if e.cfg.FlashMintAsset != (common.Address{}) && debt == e.cfg.FlashMintAsset {
		return e.cfg.FlashMintLiquidator, ModeFlashMint
	}
	return e.cfg.FlashLoanLiquidator, ModeFlashLoan
}

// Unstake reports whether collateral must be unwrapped before the swap.
func (e *Executor) Unstake(collateral common.Address) bool {
	return e.unstake[collateral]
}

// Execute submits the liquidation of c using the swap instruction in and waits
// for it to be mined. Approvals required by the venue are confirmed first.
func (e *Executor) Execute(ctx context.Context, c liquidation.Candidate, in swap.Instruction) (*Result, error) {
	contract, mode := e.ContractFor(c.Debt.Reserve.Address)

	payload, err := swap.EncodePayload(in)
	if err != nil {
		return nil, err
	}
	data, err := liquidateCalldata(c, e.Unstake(c.Collateral.Reserve.Address), payload)
	if err != nil {
		return nil, err
	}

	if odos, ok := in.(swap.OdosInstruction); ok {
		// router first, then the liquidator; strictly in order
		for _, spender := range []common.Address{odos.ApprovalTarget, contract} {
			if err := e.ensureAllowance(ctx, odos.InputToken, spender, odos.InputAmount); err != nil {
				return nil, err
			}
		}
	}

	if _, err := e.chain.Call(ctx, contract, data); err != nil {
		return nil, fmt.Errorf("%w: preflight %s: %w", ErrExecutionFailed, c.User.Hex(), err)
	}

	tx, err := e.chain.SendContractTx(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %w", ErrExecutionFailed, err)
	}
	e.log.Info("liquidation submitted",
		"user", c.User.Hex(),
		"tx", tx.Hash().Hex(),
		"mode", mode,
		"venue", in.Venue(),
	)

	receipt, err := e.chain.WaitMined(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: wait %s: %w", ErrExecutionFailed, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s reverted", ErrExecutionFailed, tx.Hash().Hex())
	}

	res := &Result{
		TxHash:   tx.Hash(),
		Mode:     mode,
		Contract: contract,
		GasUsed:  receipt.GasUsed,
	}
	if debt, seized, ok := parseLiquidationCall(receipt, c.User); ok {
		res.DebtCovered = debt
		res.SeizedCollateral = seized
	} else {
		e.log.Warn("no LiquidationCall event in receipt", "tx", tx.Hash().Hex(), "user", c.User.Hex())
	}
	return res, nil
}

// ensureAllowance approves spender for amount of token unless the bot's current
// allowance already covers it, and waits for the approval to be mined.
func (e *Executor) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	q, err := allowanceCalldata(e.chain.Address(), spender)
	if err != nil {
		return err
	}
	out, err := e.chain.Call(ctx, token, q)
	if err != nil {
		return fmt.Errorf("%w: allowance %s: %w", ErrApprovalFailed, spender.Hex(), err)
	}
	if new(big.Int).SetBytes(out).Cmp(amount) >= 0 {
		return nil
	}

	data, err := approveCalldata(spender, amount)
	if err != nil {
		return err
	}
	tx, err := e.chain.SendContractTx(ctx, token, data)
	if err != nil {
		return fmt.Errorf("%w: approve %s: %w", ErrApprovalFailed, spender.Hex(), err)
	}
	receipt, err := e.chain.WaitMined(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("%w: approve %s: %w", ErrApprovalFailed, spender.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: approve %s reverted in %s", ErrApprovalFailed, spender.Hex(), tx.Hash().Hex())
	}

	e.log.Debug("approved", "token", token.Hex(), "spender", spender.Hex(), "amount", amount.String())
	return nil
}
