package oracle_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"TokenLottery/internal/lottery"
	"TokenLottery/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookResolveLifecycle(t *testing.T) {
	b := oracle.NewBook(oracle.WithUncommittedRequests())
	require.NoError(t, b.Request("h1", 209, ""))

	created, err := b.RequestCreatedAt("h1")
	require.NoError(t, err)
	assert.Equal(t, uint64(209), created)

	_, resolved, err := b.Resolve("h1", 300)
	require.NoError(t, err)
	assert.False(t, resolved, "unfulfilled request must be pending")

	assert.ErrorIs(t, b.Fulfil("h1", [32]byte{7}, nil, 209), oracle.ErrEarlyFulfilment)
	require.NoError(t, b.Fulfil("h1", [32]byte{7}, nil, 210))
	assert.ErrorIs(t, b.Fulfil("h1", [32]byte{8}, nil, 211), oracle.ErrAlreadyFulfilled)

	_, resolved, err = b.Resolve("h1", 209)
	require.NoError(t, err)
	assert.False(t, resolved, "cannot resolve at the request round")

	v, resolved, err := b.Resolve("h1", 211)
	require.NoError(t, err)
	require.True(t, resolved)
	assert.Equal(t, byte(7), v[0])
}

func TestBookRejectsUnknownAndDuplicate(t *testing.T) {
	b := oracle.NewBook(oracle.WithUncommittedRequests())
	_, err := b.RequestCreatedAt("nope")
	assert.ErrorIs(t, err, oracle.ErrUnknownRequest)
	_, _, err = b.Resolve("nope", 1)
	assert.ErrorIs(t, err, oracle.ErrUnknownRequest)
	assert.ErrorIs(t, b.Fulfil("nope", [32]byte{}, nil, 1), oracle.ErrUnknownRequest)

	require.NoError(t, b.Request("h", 1, ""))
	assert.ErrorIs(t, b.Request("h", 2, ""), oracle.ErrDuplicateRequest)
	assert.Error(t, b.Request("", 2, ""))
}

func TestBookVerifiesCommittedSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0xab}, oracle.SeedSize)
	b := oracle.NewBook()
	require.NoError(t, b.Request("h", 10, oracle.Commitment(seed)))

	good := oracle.Derive(seed, "h", 10)
	assert.ErrorIs(t, b.Fulfil("h", good, []byte("other"), 11), oracle.ErrSeedMismatch)
	assert.ErrorIs(t, b.Fulfil("h", [32]byte{1}, seed, 11), oracle.ErrSeedMismatch)
	require.NoError(t, b.Fulfil("h", good, seed, 11))
}

func TestBookRequiresCommitmentByDefault(t *testing.T) {
	b := oracle.NewBook()
	assert.ErrorIs(t, b.Request("h", 10, ""), oracle.ErrNoCommitment)
	_, err := b.RequestCreatedAt("h")
	assert.ErrorIs(t, err, oracle.ErrUnknownRequest)

	seed := bytes.Repeat([]byte{0xcd}, oracle.SeedSize)
	require.NoError(t, b.Request("h", 10, oracle.Commitment(seed)))
	assert.ErrorIs(t, b.Fulfil("h", [32]byte{7}, nil, 11), oracle.ErrSeedMismatch)
	require.NoError(t, b.Fulfil("h", oracle.Derive(seed, "h", 10), seed, 11))
}

func TestBookDrivesGatewayFreshness(t *testing.T) {
	b := oracle.NewBook(oracle.WithUncommittedRequests())
	require.NoError(t, b.Request("h", 209, ""))
	gw := lottery.NewRandomnessGateway(b)

	assert.NoError(t, gw.CheckFresh("h", 210))
	assert.ErrorIs(t, gw.CheckFresh("h", 211), lottery.ErrRandomnessStale)
	assert.ErrorIs(t, gw.CheckFresh("missing", 210), lottery.ErrRandomnessStale)

	_, err := gw.ResolveOrPending("h", 211)
	assert.True(t, lottery.IsRetryable(err))
}

func TestBookSnapshotRestore(t *testing.T) {
	b := oracle.NewBook(oracle.WithUncommittedRequests())
	require.NoError(t, b.Request("b", 5, ""))
	require.NoError(t, b.Request("a", 3, ""))
	require.NoError(t, b.Fulfil("a", [32]byte{9}, nil, 4))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Handle)

	restored := oracle.NewBook()
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())

	assert.ErrorIs(t, restored.Restore(append(snap, snap[0])), oracle.ErrDuplicateRequest)
}

func TestDeriveIsDeterministic(t *testing.T) {
	seed := []byte("server-seed")
	assert.Equal(t, oracle.Derive(seed, "h", 1), oracle.Derive(seed, "h", 1))
	assert.NotEqual(t, oracle.Derive(seed, "h", 1), oracle.Derive(seed, "h", 2))
	assert.NotEqual(t, oracle.Derive(seed, "h", 1), oracle.Derive(seed, "g", 1))
}

func TestBeaconRequestAndFulfil(t *testing.T) {
	store, err := oracle.OpenSeedStore(filepath.Join(t.TempDir(), "seeds.db"))
	require.NoError(t, err)
	defer store.Close()

	beacon := oracle.NewBeacon(store, bytes.NewReader(bytes.Repeat([]byte{1}, 64)))
	rec, err := beacon.Request("h", 41)
	require.NoError(t, err)
	assert.Len(t, rec.Commitment, 64)

	_, err = beacon.Request("h", 42)
	assert.ErrorIs(t, err, oracle.ErrDuplicateRequest)

	due, err := beacon.Due(41)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = beacon.Due(42)
	require.NoError(t, err)
	require.Len(t, due, 1)

	value, seed, err := beacon.Fulfil("h")
	require.NoError(t, err)
	assert.NoError(t, oracle.Verify(seed, rec.Commitment, "h", 41, value))

	due, err = beacon.Due(100)
	require.NoError(t, err)
	assert.Empty(t, due)

	book := oracle.NewBook()
	require.NoError(t, book.Request("h", 41, rec.Commitment))
	assert.NoError(t, book.Fulfil("h", value, seed, 42))
}

func TestSeedStoreUnknownHandle(t *testing.T) {
	store, err := oracle.OpenSeedStore(filepath.Join(t.TempDir(), "seeds.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, oracle.ErrUnknownRequest)
	assert.ErrorIs(t, store.MarkRevealed("missing"), oracle.ErrUnknownRequest)
}
