package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CurveRoute is one static route table entry.
type CurveRoute struct {
	Input             common.Address
	Output            common.Address
	Route             []common.Address // token, pool, token, pool, token ...
	SwapParams        [][]int64
	SlippageBufferBps uint64 // 0 means the resolver default
}

type pair struct{ in, out common.Address }

// Curve resolves routes from a static table keyed by (input, output).
type Curve struct {
	routes        map[pair]CurveInstruction
	defaultBuffer uint64
	underlying    UnderlyingResolver
}

func NewCurve(routes []CurveRoute, defaultBufferBps uint64, underlying UnderlyingResolver) (*Curve, error) {
	c := &Curve{
		routes:        make(map[pair]CurveInstruction, len(routes)),
		defaultBuffer: defaultBufferBps,
		underlying:    underlying,
	}

	for i, r := range routes {
		if len(r.Route) == 0 || len(r.Route) > CurveMaxRoute {
			return nil, fmt.Errorf("curve route %d: %d addresses, want 1..%d", i, len(r.Route), CurveMaxRoute)
		}
		if len(r.SwapParams) > CurveMaxHops {
			return nil, fmt.Errorf("curve route %d: %d hops, max %d", i, len(r.SwapParams), CurveMaxHops)
		}

		var in CurveInstruction
		copy(in.Route[:], r.Route)
		for h := range in.SwapParams {
			for j := range in.SwapParams[h] {
				in.SwapParams[h][j] = new(big.Int)
			}
		}
		for h, row := range r.SwapParams {
			if len(row) != 4 {
				return nil, fmt.Errorf("curve route %d hop %d: want 4 params, got %d", i, h, len(row))
			}
			for j, v := range row {
				in.SwapParams[h][j].SetInt64(v)
			}
		}
		in.SlippageBufferBps = r.SlippageBufferBps
		if in.SlippageBufferBps == 0 {
			in.SlippageBufferBps = defaultBufferBps
		}

		c.routes[pair{r.Input, r.Output}] = in
	}
	return c, nil
}

func (c *Curve) Resolve(ctx context.Context, req Request) (Instruction, error) {
	input, err := inputToken(ctx, c.underlying, req)
	if err != nil {
		return nil, err
	}

	in, ok := c.routes[pair{input, req.Debt.Address}]
	if !ok {
		if req.Unstake {
			return nil, fmt.Errorf("%w: curve has no route from %s (underlying of %s) to %s",
				ErrNoRoute, input.Hex(), req.Collateral.Symbol, req.Debt.Symbol)
		}
		return nil, fmt.Errorf("%w: curve has no route from %s to %s", ErrNoRoute, req.Collateral.Symbol, req.Debt.Symbol)
	}

	// hand out a copy; the table is shared across attempts
	out := in
	for h := range out.SwapParams {
		for j := range out.SwapParams[h] {
			out.SwapParams[h][j] = new(big.Int).Set(in.SwapParams[h][j])
		}
	}
	return out, nil
}
