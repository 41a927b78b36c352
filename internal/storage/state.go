package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sugawarayuuta/sonnet"
)

// UserStateRecord is the latest liquidation attempt for one user. Each attempt overwrites it.
type UserStateRecord struct {
	User               string  `json:"user"`
	HealthFactor       string  `json:"healthFactor"`
	ToLiquidateAmount  string  `json:"toLiquidateAmount"`
	CollateralToken    string  `json:"collateralToken"`
	DebtToken          string  `json:"debtToken"`
	LastTrialTimestamp int64   `json:"lastTrialTimestamp"` // unix seconds
	Success            bool    `json:"success"`
	ProfitInUSD        float64 `json:"profitInUSD"`
	Profitable         bool    `json:"profitable"`
	Error              bool    `json:"error"`
	ErrorMessage       string  `json:"errorMessage,omitempty"`

	AttemptID        string `json:"attemptId"`
	Cycle            uint64 `json:"cycle"`
	Outcome          string `json:"outcome"`
	Venue            string `json:"venue,omitempty"`
	TxHash           string `json:"txHash,omitempty"`
	SeizedCollateral string `json:"seizedCollateral,omitempty"`
}

// StateStore keeps one JSON file per user under <root>/users.
type StateStore struct {
	dir string
}

func NewStateStore(root string) (*StateStore, error) {
	dir := filepath.Join(root, "users")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

func (s *StateStore) path(user common.Address) string {
	return filepath.Join(s.dir, user.Hex()+".json")
}

// Write replaces the user's record atomically (temp file + rename).
func (s *StateStore) Write(rec UserStateRecord) error {
	if !common.IsHexAddress(rec.User) {
		return fmt.Errorf("state record: invalid user %q", rec.User)
	}
	user := common.HexToAddress(rec.User)
	rec.User = user.Hex()

	data, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", rec.User, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("state temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state %s: %w", rec.User, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state %s: %w", rec.User, err)
	}
	if err := os.Rename(tmp.Name(), s.path(user)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state %s: %w", rec.User, err)
	}
	return nil
}

// Read returns the user's record; ok is false if none was written yet.
func (s *StateStore) Read(user common.Address) (UserStateRecord, bool, error) {
	data, err := os.ReadFile(s.path(user))
	if os.IsNotExist(err) {
		return UserStateRecord{}, false, nil
	}
	if err != nil {
		return UserStateRecord{}, false, fmt.Errorf("read state %s: %w", user.Hex(), err)
	}

	var rec UserStateRecord
	if err := sonnet.Unmarshal(data, &rec); err != nil {
		return UserStateRecord{}, false, fmt.Errorf("decode state %s: %w", user.Hex(), err)
	}
	return rec, true, nil
}

// List returns every stored record sorted by user address.
func (s *StateStore) List() ([]UserStateRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list state: %w", err)
	}

	out := make([]UserStateRecord, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		addr := strings.TrimSuffix(name, ".json")
		if !common.IsHexAddress(addr) {
			continue
		}
		rec, ok, err := s.Read(common.HexToAddress(addr))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}
