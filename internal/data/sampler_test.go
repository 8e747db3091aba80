package data

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardPartitionProperty(t *testing.T) {
	cases := []struct {
		n, workers int
	}{
		{103, 4},
		{100, 4},
		{7, 3},
		{5, 8},
		{1, 1},
	}
	for _, tc := range cases {
		seen := map[int]int{}
		sizes := []int{}
		for w := 0; w < tc.workers; w++ {
			shard := Shard(tc.n, 42, 3, w, tc.workers)
			sizes = append(sizes, len(shard))
			for _, idx := range shard {
				seen[idx]++
			}
		}
		// The union covers every index exactly once.
		require.Len(t, seen, tc.n, "n=%d workers=%d", tc.n, tc.workers)
		for idx, count := range seen {
			require.Equal(t, 1, count, "index %d duplicated (n=%d workers=%d)", idx, tc.n, tc.workers)
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, tc.n)
		}
		// Shard sizes differ by at most one.
		sort.Ints(sizes)
		assert.LessOrEqual(t, sizes[len(sizes)-1]-sizes[0], 1)
	}
}

func TestShard103Over4(t *testing.T) {
	total := 0
	for w := 0; w < 4; w++ {
		shard := Shard(103, 7, 0, w, 4)
		assert.Contains(t, []int{25, 26}, len(shard))
		total += len(shard)
	}
	assert.Equal(t, 103, total)
}

func TestShardDeterministic(t *testing.T) {
	a := Shard(50, 7, 2, 1, 4)
	b := Shard(50, 7, 2, 1, 4)
	assert.Equal(t, a, b)
}

func TestShardVariesByEpochAndSeed(t *testing.T) {
	base := Shard(50, 7, 0, 0, 2)
	assert.NotEqual(t, base, Shard(50, 7, 1, 0, 2), "different epoch reshuffles")
	assert.NotEqual(t, base, Shard(50, 8, 0, 0, 2), "different seed reshuffles")
}

func TestStreamSeedSeparatesStreams(t *testing.T) {
	s := StreamSeed(7, "det", 0, 0)
	assert.NotEqual(t, s, StreamSeed(7, "cls", 0, 0))
	assert.NotEqual(t, s, StreamSeed(7, "det", 1, 0))
	assert.NotEqual(t, s, StreamSeed(7, "det", 0, 1))
	assert.Equal(t, s, StreamSeed(7, "det", 0, 0))
}
