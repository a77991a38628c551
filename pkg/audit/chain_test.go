package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/sentinel/pkg/domain"
)

func entry(tick uint64, scale float64) Entry {
	return Entry{
		TimestampNS:  int64(tick) * 1_000_000,
		Tick:         tick,
		Intent:       domain.Intent{Type: domain.IntentMoveTo, Target: 0.75, Priority: 1},
		RawCommand:   []float64{1.5, -2},
		SafeCommand:  []float64{1.5 * scale, -2 * scale},
		SafetyFactor: scale,
		Mode:         domain.ModeNormal,
	}
}

func sealAll(t testing.TB, n int) []Record {
	t.Helper()
	c := NewChain()
	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		r, err := c.Seal(entry(uint64(i), 1))
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestChainLinksRecords(t *testing.T) {
	records := sealAll(t, 5)

	assert.Equal(t, GenesisHash, records[0].PrevHash)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Sequence)
		assert.Len(t, r.Hash, HashLength)
		if i > 0 {
			assert.Equal(t, records[i-1].Hash, r.PrevHash)
		}
	}
	require.NoError(t, Verify(records, 0, GenesisHash))
}

func TestHashIsDeterministic(t *testing.T) {
	a := sealAll(t, 3)
	b := sealAll(t, 3)
	assert.Equal(t, a, b)
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Record) []Record
		seq    uint64
	}{
		{
			name: "content edited",
			mutate: func(rs []Record) []Record {
				rs[2].SafetyFactor = 0.5
				return rs
			},
			seq: 3,
		},
		{
			name: "record removed",
			mutate: func(rs []Record) []Record {
				return append(rs[:1], rs[2:]...)
			},
			seq: 3,
		},
		{
			name: "records swapped",
			mutate: func(rs []Record) []Record {
				rs[1], rs[2] = rs[2], rs[1]
				return rs
			},
			seq: 3,
		},
		{
			name: "hash relinked",
			mutate: func(rs []Record) []Record {
				rs[3].PrevHash = "ffffffffffff"
				return rs
			},
			seq: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.mutate(sealAll(t, 5)), 0, GenesisHash)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrChainBroken))

			var chainErr *ChainError
			require.True(t, errors.As(err, &chainErr))
			assert.Equal(t, tt.seq, chainErr.Sequence)
		})
	}
}

func TestResumeChainContinues(t *testing.T) {
	records := sealAll(t, 3)
	c := ResumeChain(records[2])

	next, err := c.Seal(entry(4, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Sequence)
	assert.Equal(t, records[2].Hash, next.PrevHash)
	require.NoError(t, Verify(append(records, next), 0, GenesisHash))
}

func TestCodecPreservesHash(t *testing.T) {
	r := sealAll(t, 1)[0]

	data, err := Marshal(r)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	hash, err := ComputeHash(decoded)
	require.NoError(t, err)
	assert.Equal(t, r.Hash, hash)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.Contains(t, diag, r.Hash)
}

// Property 1: any single-field change to a sealed record breaks verification.
func TestAnyEditBreaksChainProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "records")
		c := NewChain()
		records := make([]Record, 0, n)
		for i := 1; i <= n; i++ {
			scale := rapid.SampledFrom([]float64{0, 0.1, 0.5, 1}).Draw(t, "scale")
			r, err := c.Seal(entry(uint64(i), scale))
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			records = append(records, r)
		}

		idx := rapid.IntRange(0, n-1).Draw(t, "index")
		records[idx].TimestampNS++

		if err := Verify(records, 0, GenesisHash); !errors.Is(err, ErrChainBroken) {
			t.Fatalf("expected broken chain, got %v", err)
		}
	})
}
