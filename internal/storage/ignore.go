package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
)

// Ignore namespaces used by the bot.
const (
	NamespaceNotProfitable = "not_profitable"
	NamespaceErrored       = "errored"
)

const ignoreSchema = `
CREATE TABLE IF NOT EXISTS ignore_entries (
    namespace   TEXT    NOT NULL,
    address     TEXT    NOT NULL,
    recorded_at INTEGER NOT NULL, -- unix nanoseconds
    PRIMARY KEY (namespace, address)
);
`

// IgnoreStore is the durable table behind every IgnoreMemory.
type IgnoreStore struct {
	db *sql.DB
}

// OpenIgnoreStore opens (or creates) <stateDir>/ignore.db.
func OpenIgnoreStore(stateDir string) (*IgnoreStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(stateDir, "ignore.db"))
	if err != nil {
		return nil, fmt.Errorf("open ignore db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(ignoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ignore schema: %w", err)
	}

	return &IgnoreStore{db: db}, nil
}

func (s *IgnoreStore) Close() error {
	return s.db.Close()
}

func (s *IgnoreStore) put(ctx context.Context, ns string, addr common.Address, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO ignore_entries (namespace, address, recorded_at) VALUES (?, ?, ?)",
		ns, addr.Hex(), at.UnixNano(),
	)
	return err
}

func (s *IgnoreStore) recordedAt(ctx context.Context, ns string, addr common.Address) (time.Time, bool, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		"SELECT recorded_at FROM ignore_entries WHERE namespace=? AND address=?",
		ns, addr.Hex(),
	).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

// remove deletes the entry only if it still carries recordedAt, so a concurrent Put is kept.
func (s *IgnoreStore) remove(ctx context.Context, ns string, addr common.Address, recordedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM ignore_entries WHERE namespace=? AND address=? AND recorded_at=?",
		ns, addr.Hex(), recordedAt.UnixNano(),
	)
	return err
}

// IgnoreMemory is a TTL'd negative cache over one namespace of an IgnoreStore.
// An address is ignored until now > recorded + ttl; expired entries are only
// removed when looked up.
type IgnoreMemory struct {
	store     *IgnoreStore
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewIgnoreMemory(store *IgnoreStore, namespace string, ttl time.Duration) *IgnoreMemory {
	return &IgnoreMemory{store: store, namespace: namespace, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests and replays.
func (m *IgnoreMemory) WithClock(now func() time.Time) *IgnoreMemory {
	m.now = now
	return m
}

func (m *IgnoreMemory) Namespace() string { return m.namespace }

func (m *IgnoreMemory) TTL() time.Duration { return m.ttl }

func (m *IgnoreMemory) Put(ctx context.Context, addr common.Address) error {
	if err := m.store.put(ctx, m.namespace, addr, m.now()); err != nil {
		return fmt.Errorf("ignore put %s: %w", addr.Hex(), err)
	}
	return nil
}

func (m *IgnoreMemory) IsIgnored(ctx context.Context, addr common.Address) (bool, error) {
	at, ok, err := m.store.recordedAt(ctx, m.namespace, addr)
	if err != nil {
		return false, fmt.Errorf("ignore lookup %s: %w", addr.Hex(), err)
	}
	if !ok {
		return false, nil
	}
	if !m.now().After(at.Add(m.ttl)) {
		return true, nil
	}

	if err := m.store.remove(ctx, m.namespace, addr, at); err != nil {
		return false, fmt.Errorf("ignore expire %s: %w", addr.Hex(), err)
	}
	return false, nil
}

// Filter returns addrs without the ignored ones, preserving order.
func (m *IgnoreMemory) Filter(ctx context.Context, addrs []common.Address) ([]common.Address, error) {
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		ignored, err := m.IsIgnored(ctx, a)
		if err != nil {
			return nil, err
		}
		if !ignored {
			out = append(out, a)
		}
	}
	return out, nil
}
