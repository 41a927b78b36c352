package ledger

import (
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

type Addresses struct {
	Pool         common.Address
	DataProvider common.Address
	Oracle       common.Address
}

type tokenMeta struct {
	symbol     string
	yieldToken common.Address
}

// Client implements Ledger over eth_call.
type Client struct {
	caller Caller
	addrs  Addresses

	poolABI     abi.ABI
	providerABI abi.ABI
	oracleABI   abi.ABI
	erc20ABI    abi.ABI
	vaultABI    abi.ABI

	closeFactor *big.Int

	meta       *lru.Cache[common.Address, tokenMeta]
	underlying *lru.Cache[common.Address, common.Address]
}

// NewClient builds a ledger client. closeFactorOverride, when non-nil, is
// returned by CloseFactorThreshold instead of the pool's value.
func NewClient(caller Caller, addrs Addresses, closeFactorOverride *big.Int) (*Client, error) {
	c := &Client{caller: caller, addrs: addrs, closeFactor: closeFactorOverride}

	for _, p := range []struct {
		dst *abi.ABI
		src string
	}{
		{&c.poolABI, eth.PoolABI},
		{&c.providerABI, eth.DataProviderABI},
		{&c.oracleABI, eth.OracleABI},
		{&c.erc20ABI, eth.ERC20ABI},
		{&c.vaultABI, eth.ERC4626ABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.src))
		if err != nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		*p.dst = parsed
	}

	var err error
	if c.meta, err = lru.New[common.Address, tokenMeta](256); err != nil {
		return nil, err
	}
	if c.underlying, err = lru.New[common.Address, common.Address](64); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.Call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, method, err)
	}
	res, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", ErrReadFailed, method, err)
	}
	return res, nil
}

func (c *Client) HealthFactor(ctx context.Context, user common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.poolABI, c.addrs.Pool, "getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	// 6th output is the health factor, 18 decimals
	return out[5].(*big.Int), nil
}

func (c *Client) UserReserveBalances(ctx context.Context, user, reserve common.Address) (Balance, error) {
	out, err := c.call(ctx, c.providerABI, c.addrs.DataProvider, "getUserReserveData", reserve, user)
	if err != nil {
		return Balance{}, err
	}
	debt := new(big.Int).Add(out[1].(*big.Int), out[2].(*big.Int))
	return Balance{Supply: out[0].(*big.Int), Debt: debt}, nil
}

func (c *Client) ReservesList(ctx context.Context) ([]common.Address, error) {
	out, err := c.call(ctx, c.poolABI, c.addrs.Pool, "getReservesList")
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (c *Client) ReserveConfig(ctx context.Context, reserve common.Address) (ReserveConfig, error) {
	out, err := c.call(ctx, c.providerABI, c.addrs.DataProvider, "getReserveConfigurationData", reserve)
	if err != nil {
		return ReserveConfig{}, err
	}

	meta, err := c.tokenMeta(ctx, reserve)
	if err != nil {
		return ReserveConfig{}, err
	}

	return ReserveConfig{
		Address:           reserve,
		Symbol:            meta.symbol,
		Decimals:          uint8(out[0].(*big.Int).Uint64()),
		LiquidationBonus:  out[3].(*big.Int).Uint64(),
		UsageAsCollateral: out[5].(bool),
		BorrowingEnabled:  out[6].(bool),
		Active:            out[8].(bool),
		Frozen:            out[9].(bool),
		YieldToken:        meta.yieldToken,
	}, nil
}

// tokenMeta never changes for a listed reserve, so it is cached for the process lifetime.
func (c *Client) tokenMeta(ctx context.Context, reserve common.Address) (tokenMeta, error) {
	if m, ok := c.meta.Get(reserve); ok {
		return m, nil
	}

	out, err := c.call(ctx, c.providerABI, c.addrs.DataProvider, "getReserveTokensAddresses", reserve)
	if err != nil {
		return tokenMeta{}, err
	}
	m := tokenMeta{yieldToken: out[0].(common.Address)}

	// some tokens return bytes32 symbols; fall back to a short address
	if sym, err := c.call(ctx, c.erc20ABI, reserve, "symbol"); err == nil {
		m.symbol = sym[0].(string)
	} else {
		m.symbol = reserve.Hex()[:10]
	}

	c.meta.Add(reserve, m)
	return m, nil
}

func (c *Client) AssetPriceUSD(ctx context.Context, reserve common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.oracleABI, c.addrs.Oracle, "getAssetPrice", reserve)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) CloseFactorThreshold(ctx context.Context) (*big.Int, error) {
	if c.closeFactor != nil {
		return new(big.Int).Set(c.closeFactor), nil
	}
	out, err := c.call(ctx, c.poolABI, c.addrs.Pool, "CLOSE_FACTOR_HF_THRESHOLD")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// UnderlyingAsset resolves one level of ERC-4626 wrapping.
func (c *Client) UnderlyingAsset(ctx context.Context, token common.Address) (common.Address, error) {
	if a, ok := c.underlying.Get(token); ok {
		return a, nil
	}
	out, err := c.call(ctx, c.vaultABI, token, "asset")
	if err != nil {
		return common.Address{}, err
	}
	asset := out[0].(common.Address)
	c.underlying.Add(token, asset)
	return asset, nil
}
