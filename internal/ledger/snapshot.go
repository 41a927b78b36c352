package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pulkyeet/liquidation-bot/internal/pkg/batch"
)

// Snapshot reads config and price of every listed reserve, batchSize reads in flight at a time.
// Any failed reserve fails the whole snapshot.
func Snapshot(ctx context.Context, l Ledger, batchSize int) (map[common.Address]ReserveInfo, error) {
	list, err := l.ReservesList(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserves list: %w", err)
	}

	infos := make([]ReserveInfo, len(list))
	errs := make([]error, len(list))

	batch.InBatches(len(list), batchSize, func(i int) {
		cfg, err := l.ReserveConfig(ctx, list[i])
		if err != nil {
			errs[i] = fmt.Errorf("reserve %s config: %w", list[i].Hex(), err)
			return
		}
		price, err := l.AssetPriceUSD(ctx, list[i])
		if err != nil {
			errs[i] = fmt.Errorf("reserve %s price: %w", list[i].Hex(), err)
			return
		}
		infos[i] = ReserveInfo{ReserveConfig: cfg, Price: price}
	})

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	out := make(map[common.Address]ReserveInfo, len(list))
	for _, info := range infos {
		out[info.Address] = info
	}
	return out, nil
}

// ReadPosition reads the health factor and every reserve balance of user.
// Empty balances are left out of Position.Balances.
func ReadPosition(ctx context.Context, l Ledger, user common.Address, reserves map[common.Address]ReserveInfo, batchSize int) (Position, error) {
	hf, err := l.HealthFactor(ctx, user)
	if err != nil {
		return Position{}, fmt.Errorf("health factor %s: %w", user.Hex(), err)
	}

	addrs := make([]common.Address, 0, len(reserves))
	for a := range reserves {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })

	var mu sync.Mutex
	var errs []error
	balances := make(map[common.Address]Balance)

	batch.InBatches(len(addrs), batchSize, func(i int) {
		bal, err := l.UserReserveBalances(ctx, user, addrs[i])

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve %s: %w", addrs[i].Hex(), err))
			return
		}
		if isEmpty(bal) {
			return
		}
		balances[addrs[i]] = bal
	})

	if err := errors.Join(errs...); err != nil {
		return Position{}, fmt.Errorf("balances %s: %w", user.Hex(), err)
	}

	return Position{User: user, HealthFactor: hf, Balances: balances}, nil
}

func isEmpty(b Balance) bool {
	return (b.Supply == nil || b.Supply.Sign() == 0) && (b.Debt == nil || b.Debt.Sign() == 0)
}

// IsLiquidatable reports hf < 1.0.
func IsLiquidatable(hf *big.Int) bool {
	return hf != nil && hf.Cmp(WAD) < 0
}
