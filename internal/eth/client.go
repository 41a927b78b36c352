package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// ErrNoKey is returned by write operations on a read-only client.
var ErrNoKey = errors.New("eth: no private key configured")

type Options struct {
	URL               string
	RequestsPerSecond float64
	Burst             int
	PrivateKey        string // hex, optional; without it the client is read-only
	ReceiptPoll       time.Duration
}

type Client struct {
	rpc     *ethclient.Client
	limiter *rate.Limiter
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	poll    time.Duration
}

func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("rpc url not set")
	}

	rpc, err := ethclient.DialContext(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	c := &Client{
		rpc:     rpc,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1)),
		chainID: chainID,
		poll:    opts.ReceiptPoll,
	}
	if opts.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if c.poll <= 0 {
		c.poll = 2 * time.Second
	}

	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Address is the bot's sending address (zero for a read-only client).
func (c *Client) Address() common.Address {
	return c.from
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.rpc.CallContract(ctx, msg, blockNumber)
}

// Call runs an eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
}

// SendContractTx signs and submits an EIP-1559 tx calling to with data.
// fee cap = tip + 2*baseFee, gas = estimate + 20%.
func (c *Client) SendContractTx(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	if c.key == nil {
		return nil, ErrNoKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:      c.from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * 120 / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

// WaitMined polls for the receipt of hash until it is available or ctx is done.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
