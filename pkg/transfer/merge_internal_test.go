package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMergeContribs_SumsRegardlessOfInputOrder pins down the correctness
// side of deterministic accumulation: whatever order contributions are
// handed in, the sum at each offset is the same.
func TestMergeContribs_SumsRegardlessOfInputOrder(t *testing.T) {
	cs := []contribution{
		{peer: 0, srcKey: 0, offset: 0, value: 10},
		{peer: 0, srcKey: 1, offset: 0, value: 20},
		{peer: 1, srcKey: 0, offset: 0, value: 30},
		{peer: 1, srcKey: 1, offset: 0, value: 40},
	}
	dest := make([]float64, 1)
	mergeContribs(cs, dest)
	require.Equal(t, 100.0, dest[0])
}

// TestMergeContribs_OrderIndependentOfArrival is the cross-peer
// determinism property end_transfer's fan-out depends on: a destination
// point fed by two distinct peer ranks (0 and 1 here) must sum to the
// same bits no matter which peer's goroutine happens to deliver its
// contributions first. mergeContribs is handed the same four
// contributions in forward order and in fully reversed order — as if
// peer 1 had won the race in one run and peer 0 in the other — and both
// must produce an identical result, because the sort by (peer, src_gidx)
// runs before any summing happens.
func TestMergeContribs_OrderIndependentOfArrival(t *testing.T) {
	base := []contribution{
		{peer: 1, srcKey: 5, offset: 0, value: 0.1},
		{peer: 0, srcKey: 9, offset: 0, value: 1_000_000.0},
		{peer: 0, srcKey: 1, offset: 0, value: 0.0000001},
		{peer: 1, srcKey: 2, offset: 0, value: 3.3},
	}

	forward := append([]contribution(nil), base...)
	destForward := make([]float64, 1)
	mergeContribs(forward, destForward)

	reversed := make([]contribution, len(base))
	for i, c := range base {
		reversed[len(base)-1-i] = c
	}
	destReversed := make([]float64, 1)
	mergeContribs(reversed, destReversed)

	require.Equal(t, destForward[0], destReversed[0])
}

// TestMergeContribs_MultiplePeersDistinctOffsets confirms that a peer
// feeding a different destination offset does not interfere: each offset
// receives only the sum of its own contributions.
func TestMergeContribs_MultiplePeersDistinctOffsets(t *testing.T) {
	cs := []contribution{
		{peer: 2, srcKey: 0, offset: 1, value: 7},
		{peer: 0, srcKey: 0, offset: 0, value: 1},
		{peer: 1, srcKey: 0, offset: 0, value: 2},
	}
	dest := make([]float64, 2)
	mergeContribs(cs, dest)
	require.Equal(t, 3.0, dest[0])
	require.Equal(t, 7.0, dest[1])
}
