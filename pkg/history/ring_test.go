package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)

	assert.False(t, r.Add(1))
	assert.False(t, r.Add(2))
	assert.False(t, r.Add(3))
	assert.True(t, r.Add(4))

	assert.Equal(t, []int{2, 3, 4}, r.All())
	assert.Equal(t, 3, r.Size())

	newest, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, 4, newest)
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](5)
	assert.Nil(t, r.Last(3))

	for i := 1; i <= 7; i++ {
		r.Add(i)
	}
	assert.Equal(t, []int{5, 6, 7}, r.Last(3))
	assert.Equal(t, []int{3, 4, 5, 6, 7}, r.Last(10))
}

func TestRingFindNewestMatch(t *testing.T) {
	r := NewRing[string](4)
	for _, s := range []string{"a1", "b1", "a2", "b2"} {
		r.Add(s)
	}
	got, ok := r.Find(func(s string) bool { return s[0] == 'a' })
	require.True(t, ok)
	assert.Equal(t, "a2", got)

	_, ok = r.Find(func(s string) bool { return s == "zz" })
	assert.False(t, ok)
}

func TestRingDefaultsAndClear(t *testing.T) {
	r := NewRing[int](0)
	assert.Equal(t, 10, r.Capacity())

	r.Add(1)
	r.Clear()
	assert.Equal(t, 0, r.Size())
	_, ok := r.Newest()
	assert.False(t, ok)
}

func TestRingConcurrentAdd(t *testing.T) {
	r := NewRing[int](100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Add(i)
				_ = r.All()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, r.Size())
}

// Property 1: the ring always holds the newest min(n, capacity) items in
// insertion order.
func TestRingKeepsNewestProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "capacity")
		items := rapid.SliceOf(rapid.Int()).Draw(t, "items")

		r := NewRing[int](capacity)
		for _, it := range items {
			r.Add(it)
		}

		want := items
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		got := r.All()
		if len(got) != len(want) {
			t.Fatalf("size %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("item %d = %d, want %d", i, got[i], want[i])
			}
		}
	})
}
