package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol = common.HexToAddress("0xca40100000000000000000000000000000000003")
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) *IgnoreStore {
	s, err := OpenIgnoreStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIgnoreMemory_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewIgnoreMemory(newTestStore(t), NamespaceNotProfitable, time.Minute).WithClock(clock.now)

	ignored, err := m.IsIgnored(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ignored)

	require.NoError(t, m.Put(ctx, alice))

	clock.advance(time.Minute) // now == recorded + ttl: still ignored
	ignored, err = m.IsIgnored(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ignored)

	clock.advance(time.Nanosecond)
	ignored, err = m.IsIgnored(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ignored)

	// the expired row is gone
	_, ok, err := m.store.recordedAt(ctx, m.namespace, alice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIgnoreMemory_PutRefreshes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewIgnoreMemory(newTestStore(t), NamespaceErrored, time.Hour).WithClock(clock.now)

	require.NoError(t, m.Put(ctx, alice))
	clock.advance(50 * time.Minute)
	require.NoError(t, m.Put(ctx, alice))
	clock.advance(50 * time.Minute)

	ignored, err := m.IsIgnored(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ignored)
}

func TestIgnoreMemory_NamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	short := NewIgnoreMemory(store, NamespaceNotProfitable, time.Minute).WithClock(clock.now)
	long := NewIgnoreMemory(store, NamespaceErrored, time.Hour).WithClock(clock.now)
	assert.Equal(t, NamespaceNotProfitable, short.Namespace())
	assert.Equal(t, time.Hour, long.TTL())

	require.NoError(t, short.Put(ctx, alice))
	require.NoError(t, long.Put(ctx, bob))
	clock.advance(2 * time.Minute)

	got, err := short.Filter(ctx, []common.Address{alice, bob, carol})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice, bob, carol}, got)

	got, err = long.Filter(ctx, []common.Address{alice, bob, carol})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice, carol}, got)
}

func TestIgnoreStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenIgnoreStore(dir)
	require.NoError(t, err)
	require.NoError(t, NewIgnoreMemory(s, NamespaceErrored, time.Hour).Put(ctx, alice))
	require.NoError(t, s.Close())

	s, err = OpenIgnoreStore(dir)
	require.NoError(t, err)
	defer s.Close()

	ignored, err := NewIgnoreMemory(s, NamespaceErrored, time.Hour).IsIgnored(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ignored)
}

func TestStateStore_WriteReadOverwrite(t *testing.T) {
	root := t.TempDir()
	s, err := NewStateStore(root)
	require.NoError(t, err)

	rec := UserStateRecord{
		User:               "0xa11ce00000000000000000000000000000000001",
		HealthFactor:       "903000000000000000",
		ToLiquidateAmount:  "800000000",
		CollateralToken:    "WETH",
		DebtToken:          "USDC",
		LastTrialTimestamp: 1_700_000_000,
		ProfitInUSD:        40,
		Profitable:         true,
		AttemptID:          "a1",
		Outcome:            "no_route",
	}
	require.NoError(t, s.Write(rec))

	got, ok, err := s.Read(alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice.Hex(), got.User)
	assert.Equal(t, "800000000", got.ToLiquidateAmount)
	assert.Equal(t, 40.0, got.ProfitInUSD)

	rec.Outcome = "liquidated"
	rec.Success = true
	rec.TxHash = "0xabc"
	require.NoError(t, s.Write(rec))

	got, _, err = s.Read(alice)
	require.NoError(t, err)
	assert.Equal(t, "liquidated", got.Outcome)
	assert.True(t, got.Success)

	_, err = os.Stat(filepath.Join(root, "users", alice.Hex()+".json"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "users"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStateStore_ReadMissing(t *testing.T) {
	s, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Read(bob)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStore_List(t *testing.T) {
	s, err := NewStateStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(UserStateRecord{User: bob.Hex(), Outcome: "not_profitable"}))
	require.NoError(t, s.Write(UserStateRecord{User: alice.Hex(), Outcome: "zero_debt"}))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, alice.Hex(), recs[0].User)
	assert.Equal(t, bob.Hex(), recs[1].User)
}

func TestStateStore_RejectsBadAddress(t *testing.T) {
	s, err := NewStateStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Write(UserStateRecord{User: "nope"}))
}
