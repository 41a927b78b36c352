package swap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pulkyeet/liquidation-bot/internal/eth"
)

// Caller is the read side of eth.Client.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

type UniswapV3Config struct {
	Factory       common.Address
	QuoteAsset    common.Address
	WrappedNative common.Address
	FeeTiers      []uint32
}

type poolKey struct {
	a, b common.Address
	fee  uint32
}

// UniswapV3 builds packed exact-input paths over pools verified through the factory.
type UniswapV3 struct {
	cfg        UniswapV3Config
	caller     Caller
	factoryABI abi.ABI
	underlying UnderlyingResolver
	pools      *lru.Cache[poolKey, common.Address]
}

func NewUniswapV3(cfg UniswapV3Config, caller Caller, underlying UnderlyingResolver) (*UniswapV3, error) {
	parsed, err := abi.JSON(strings.NewReader(eth.UniswapV3FactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pools, err := lru.New[poolKey, common.Address](1024)
	if err != nil {
		return nil, err
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = []uint32{100, 500, 3000, 10000}
	}
	return &UniswapV3{cfg: cfg, caller: caller, factoryABI: parsed, underlying: underlying, pools: pools}, nil
}

// pool returns the pool for (a, b, fee) or the zero address. Only existing pools are cached.
func (u *UniswapV3) pool(ctx context.Context, a, b common.Address, fee uint32) (common.Address, error) {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	key := poolKey{a, b, fee}
	if p, ok := u.pools.Get(key); ok {
		return p, nil
	}

	data, err := u.factoryABI.Pack("getPool", a, b, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPool: %w", err)
	}
	out, err := u.caller.Call(ctx, u.cfg.Factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool: %w", err)
	}
	res, err := u.factoryABI.Unpack("getPool", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPool: %w", err)
	}

	p := res[0].(common.Address)
	if p != (common.Address{}) {
		u.pools.Add(key, p)
	}
	return p, nil
}

// firstTier returns the first configured fee tier with a pool for (a, b).
func (u *UniswapV3) firstTier(ctx context.Context, a, b common.Address) (uint32, bool, error) {
	for _, fee := range u.cfg.FeeTiers {
		p, err := u.pool(ctx, a, b, fee)
		if err != nil {
			return 0, false, err
		}
		if p != (common.Address{}) {
			return fee, true, nil
		}
	}
	return 0, false, nil
}

// route walks hops and returns the fee of every consecutive pair, or false if any pair lacks a pool.
func (u *UniswapV3) route(ctx context.Context, hops []common.Address) ([]uint32, bool, error) {
	fees := make([]uint32, 0, len(hops)-1)
	for i := 0; i+1 < len(hops); i++ {
		fee, ok, err := u.firstTier(ctx, hops[i], hops[i+1])
		if err != nil || !ok {
			return nil, false, err
		}
		fees = append(fees, fee)
	}
	return fees, true, nil
}

func (u *UniswapV3) Resolve(ctx context.Context, req Request) (Instruction, error) {
	input, err := inputToken(ctx, u.underlying, req)
	if err != nil {
		return nil, err
	}
	output := req.Debt.Address

	candidates := [][]common.Address{{input, output}}
	for _, mid := range []common.Address{u.cfg.QuoteAsset, u.cfg.WrappedNative} {
		if mid == (common.Address{}) || mid == input || mid == output {
			continue
		}
		candidates = append(candidates, []common.Address{input, mid, output})
	}

	for _, hops := range candidates {
		fees, ok, err := u.route(ctx, hops)
		if err != nil {
			return nil, fmt.Errorf("uniswap v3 route: %w", err)
		}
		if ok {
			return UniswapV3Instruction{Path: EncodePath(hops, fees)}, nil
		}
	}

	return nil, fmt.Errorf("%w: uniswap v3 has no pools from %s to %s", ErrNoRoute, req.Collateral.Symbol, req.Debt.Symbol)
}

// EncodePath packs token(20) | fee(3) | token(20) ... ; len(fees) must be len(tokens)-1.
func EncodePath(tokens []common.Address, fees []uint32) []byte {
	path := make([]byte, 0, len(tokens)*common.AddressLength+len(fees)*3)
	for i, t := range tokens {
		path = append(path, t.Bytes()...)
		if i < len(fees) {
			f := fees[i]
			path = append(path, byte(f>>16), byte(f>>8), byte(f))
		}
	}
	return path
}
