package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pulkyeet/liquidation-bot/internal/pkg/httpx"
)

// Poster is the REST transport, satisfied by httpx.Client.
type Poster interface {
	PostJSON(ctx context.Context, url string, body, out any) error
}

type OdosConfig struct {
	BaseURL           string
	ChainID           int64
	Router            common.Address
	SlippageBufferBps uint64
}

// Odos quotes through the Odos smart order router and assembles the swap calldata.
type Odos struct {
	cfg        OdosConfig
	http       Poster
	underlying UnderlyingResolver
	log        *slog.Logger
}

func NewOdos(cfg OdosConfig, http Poster, underlying UnderlyingResolver, log *slog.Logger) *Odos {
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Odos{cfg: cfg, http: http, underlying: underlying, log: log}
}

type odosToken struct {
	TokenAddress string  `json:"tokenAddress"`
	Amount       string  `json:"amount,omitempty"`
	Proportion   float64 `json:"proportion,omitempty"`
}

type odosQuoteRequest struct {
	ChainID              int64       `json:"chainId"`
	InputTokens          []odosToken `json:"inputTokens"`
	OutputTokens         []odosToken `json:"outputTokens"`
	UserAddr             string      `json:"userAddr"`
	SlippageLimitPercent float64     `json:"slippageLimitPercent"`
	DisableRFQs          bool        `json:"disableRFQs"`
	Compact              bool        `json:"compact"`
}

type odosQuoteResponse struct {
	PathID     string   `json:"pathId"`
	InAmounts  []string `json:"inAmounts"`
	OutAmounts []string `json:"outAmounts"`
}

type odosAssembleRequest struct {
	UserAddr string `json:"userAddr"`
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
}

type odosAssembleResponse struct {
	Transaction struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"transaction"`
}

func (o *Odos) Resolve(ctx context.Context, req Request) (Instruction, error) {
	input, err := inputToken(ctx, o.underlying, req)
	if err != nil {
		return nil, err
	}

	amount, err := collateralForRepay(req, o.cfg.SlippageBufferBps)
	if err != nil {
		return nil, fmt.Errorf("odos sizing: %w", err)
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: odos input amount rounds to zero", ErrNoRoute)
	}

	var quote odosQuoteResponse
	err = o.http.PostJSON(ctx, o.cfg.BaseURL+"/sor/quote/v2", odosQuoteRequest{
		ChainID:              o.cfg.ChainID,
		InputTokens:          []odosToken{{TokenAddress: input.Hex(), Amount: amount.String()}},
		OutputTokens:         []odosToken{{TokenAddress: req.Debt.Address.Hex(), Proportion: 1}},
		UserAddr:             req.Executor.Hex(),
		SlippageLimitPercent: float64(o.cfg.SlippageBufferBps) / 100,
		DisableRFQs:          true,
		Compact:              true,
	}, &quote)
	if err != nil {
		return nil, classifyOdos("quote", err)
	}
	if quote.PathID == "" {
		return nil, fmt.Errorf("odos quote %s->%s: %w", req.Collateral.Symbol, req.Debt.Symbol, ErrNoDefinedPools)
	}

	o.log.Debug("odos quote",
		"input", input.Hex(),
		"output", req.Debt.Address.Hex(),
		"in", amount.String(),
		"out", strings.Join(quote.OutAmounts, ","),
	)

	var asm odosAssembleResponse
	err = o.http.PostJSON(ctx, o.cfg.BaseURL+"/sor/assemble", odosAssembleRequest{
		UserAddr: req.Executor.Hex(),
		PathID:   quote.PathID,
	}, &asm)
	if err != nil {
		return nil, classifyOdos("assemble", err)
	}

	calldata, err := hexutil.Decode(asm.Transaction.Data)
	if err != nil || len(calldata) == 0 {
		return nil, fmt.Errorf("odos assemble: bad calldata %q", asm.Transaction.Data)
	}
	if asm.Transaction.To != "" && common.HexToAddress(asm.Transaction.To) != o.cfg.Router {
		return nil, fmt.Errorf("odos assemble: tx targets %s, configured router is %s", asm.Transaction.To, o.cfg.Router.Hex())
	}

	inAmount := amount
	if len(quote.InAmounts) > 0 {
		if v, ok := new(big.Int).SetString(quote.InAmounts[0], 10); ok {
			inAmount = v
		}
	}

	return OdosInstruction{
		Calldata:       calldata,
		InputAmount:    inAmount,
		ApprovalTarget: o.cfg.Router,
		InputToken:     input,
	}, nil
}

// classifyOdos maps the provider's thin-liquidity answer to ErrNoDefinedPools.
// Everything else is a venue (transport) failure.
func classifyOdos(step string, err error) error {
	var se *httpx.StatusError
	if errors.As(err, &se) && strings.Contains(strings.ToLower(se.Body), "no defined pools") {
		return fmt.Errorf("odos %s: %w", step, ErrNoDefinedPools)
	}
	return fmt.Errorf("odos %s: %w", step, err)
}
