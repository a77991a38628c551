package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, path string) *Ledger {
	t.Helper()
	cfg := LedgerConfig{InMemory: path == "", Path: path}
	l, err := OpenLedger(cfg)
	require.NoError(t, err)
	return l
}

func TestLedgerAppendReplay(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	defer l.Close()

	records := sealAll(t, 300)
	for _, r := range records {
		require.NoError(t, l.Append(ctx, r))
	}

	got, err := l.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 300)
	// Big-endian keys keep numeric order past single-byte sequences.
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.Sequence)
	}

	last, ok, err := l.Last()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, records[299].Hash, last.Hash)

	count, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), count)
}

func TestLedgerRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	defer l.Close()

	r := sealAll(t, 1)[0]
	require.NoError(t, l.Append(ctx, r))
	assert.Error(t, l.Append(ctx, r))
}

func TestLedgerEmpty(t *testing.T) {
	l := openTestLedger(t, "")
	defer l.Close()

	_, ok, err := l.Last()
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := l.Chain()
	require.NoError(t, err)
	seq, hash := c.Head()
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, GenesisHash, hash)
}

func TestLedgerResumesAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l := openTestLedger(t, dir)
	for _, r := range sealAll(t, 4) {
		require.NoError(t, l.Append(ctx, r))
	}
	require.NoError(t, l.Close())

	l = openTestLedger(t, dir)
	defer l.Close()

	c, err := l.Chain()
	require.NoError(t, err)
	next, err := c.Seal(entry(5, 1))
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, next))

	count, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
}

func TestLedgerVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	defer l.Close()

	records := sealAll(t, 3)
	for _, r := range records {
		require.NoError(t, l.Append(ctx, r))
	}

	tampered := records[1]
	tampered.SafetyFactor = 0
	data, err := Marshal(tampered)
	require.NoError(t, err)
	require.NoError(t, l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(2), data)
	}))

	_, err = l.Verify(ctx)
	assert.True(t, errors.Is(err, ErrChainBroken))
}

func TestOpenLedgerRequiresPath(t *testing.T) {
	_, err := OpenLedger(LedgerConfig{})
	assert.Error(t, err)
}
