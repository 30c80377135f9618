package peers_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/peers"
	"github.com/tango-coupler/tango/pkg/transport"
)

func TestExchange_FourRanks(t *testing.T) {
	cluster := transport.NewMemoryCluster(4)
	self := []peers.Record{
		{GridID: 0, Rank: 0, Local: grid.Box{IS: 0, IE: 2, JS: 0, JE: 4}},
		{GridID: 0, Rank: 1, Local: grid.Box{IS: 2, IE: 4, JS: 0, JE: 4}},
		{GridID: 1, Rank: 2, Local: grid.Box{IS: 0, IE: 4, JS: 0, JE: 2}},
		{GridID: 1, Rank: 3, Local: grid.Box{IS: 0, IE: 4, JS: 2, JE: 4}},
	}

	var wg sync.WaitGroup
	results := make([][]peers.Record, 4)
	for r, tr := range cluster {
		wg.Add(1)
		go func(r int, tr *transport.Memory) {
			defer wg.Done()
			recs, err := peers.Exchange(context.Background(), tr, self[r])
			require.NoError(t, err)
			results[r] = recs
		}(r, tr)
	}
	wg.Wait()

	for r := 0; r < 4; r++ {
		require.Equal(t, self, results[r], "rank %d disagrees on the exchanged description set", r)
	}
}

func TestBuild_DisjointCoverage(t *testing.T) {
	global := grid.Box{IS: 0, IE: 4, JS: 0, JE: 4}
	all := []peers.Record{
		{GridID: 0, Rank: 0, Local: grid.Box{IS: 0, IE: 2, JS: 0, JE: 4}},
		{GridID: 0, Rank: 1, Local: grid.Box{IS: 2, IE: 4, JS: 0, JE: 4}},
	}
	dir, err := peers.Build(all[0], all, map[int]grid.Box{0: global})
	require.NoError(t, err)

	rank, ok := dir.Owner(0, 0*4+0)
	require.True(t, ok)
	require.Equal(t, 0, rank)

	rank, ok = dir.Owner(0, 3*4+3)
	require.True(t, ok)
	require.Equal(t, 1, rank)

	require.Len(t, dir.Peers(0), 2)
}

func TestBuild_OverlapIsTopologyError(t *testing.T) {
	global := grid.Box{IS: 0, IE: 4, JS: 0, JE: 4}
	all := []peers.Record{
		{GridID: 0, Rank: 0, Local: grid.Box{IS: 0, IE: 3, JS: 0, JE: 4}},
		{GridID: 0, Rank: 1, Local: grid.Box{IS: 2, IE: 4, JS: 0, JE: 4}},
	}
	_, err := peers.Build(all[0], all, map[int]grid.Box{0: global})
	require.Error(t, err)
	cerr, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindTopology, cerr.Kind)
}

func TestBuild_GapIsTopologyError(t *testing.T) {
	global := grid.Box{IS: 0, IE: 4, JS: 0, JE: 4}
	all := []peers.Record{
		{GridID: 0, Rank: 0, Local: grid.Box{IS: 0, IE: 2, JS: 0, JE: 4}},
	}
	_, err := peers.Build(all[0], all, map[int]grid.Box{0: global})
	require.Error(t, err)
}
