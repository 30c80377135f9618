package route_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/peers"
	"github.com/tango-coupler/tango/pkg/route"
	"github.com/tango-coupler/tango/pkg/weights"
)

func TestBuildSend_GroupsAndPrunes(t *testing.T) {
	self, err := grid.New("atm", 0, grid.Box{IS: 0, IE: 1, JS: 0, JE: 2}, grid.Box{IS: 0, IE: 2, JS: 0, JE: 2})
	require.NoError(t, err)

	global := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}
	all := []peers.Record{
		{GridID: 1, Rank: 1, Local: grid.Box{IS: 0, IE: 1, JS: 0, JE: 2}},
		{GridID: 1, Rank: 2, Local: grid.Box{IS: 1, IE: 2, JS: 0, JE: 2}},
	}
	dir, err := peers.Build(all[0], all, map[int]grid.Box{1: global})
	require.NoError(t, err)

	table := weights.NewForTest([]weights.Entry{
		{Src: 0, Dst: 0, W: 1.0},
		{Src: 1, Dst: 2, W: 0.5},
		{Src: 3, Dst: 0, W: 1.0}, // not locally owned, ignored
		{Src: 0, Dst: 1, W: 1e-20},
	})

	routes, err := route.BuildSend(self, dir, 1, table, route.DefaultEpsilon)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	require.Equal(t, 1, routes[0].Peer)
	require.Equal(t, []int{0}, routes[0].Points)
	require.Equal(t, 2, routes[1].Peer)
	require.Equal(t, []int{1}, routes[1].Points)
}

func TestBuildRecv_GroupsAndOrdersBySrc(t *testing.T) {
	self, err := grid.New("ocn", 0, grid.Box{IS: 0, IE: 1, JS: 0, JE: 2}, grid.Box{IS: 0, IE: 2, JS: 0, JE: 2})
	require.NoError(t, err)

	global := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}
	all := []peers.Record{
		{GridID: 1, Rank: 5, Local: grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}},
	}
	dir, err := peers.Build(all[0], all, map[int]grid.Box{1: global})
	require.NoError(t, err)

	table := weights.NewForTest([]weights.Entry{
		{Src: 2, Dst: 0, W: 1.0},
		{Src: 3, Dst: 1, W: 0.5},
	})

	routes, err := route.BuildRecv(self, dir, 1, table, route.DefaultEpsilon)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, []int{0, 1}, routes[0].Points)
	require.Equal(t, []float64{1.0, 0.5}, routes[0].Weights)
}

func TestBuildSend_UnmatchedDestIsTopologyError(t *testing.T) {
	self, err := grid.New("atm", 0, grid.Box{IS: 0, IE: 1, JS: 0, JE: 1}, grid.Box{IS: 0, IE: 1, JS: 0, JE: 1})
	require.NoError(t, err)
	all := []peers.Record{{GridID: 1, Rank: 0, Local: grid.Box{IS: 0, IE: 1, JS: 0, JE: 1}}}
	dir, err := peers.Build(all[0], all, map[int]grid.Box{1: {IS: 0, IE: 1, JS: 0, JE: 1}})
	require.NoError(t, err)

	table := weights.NewForTest([]weights.Entry{{Src: 0, Dst: 99, W: 1.0}})
	_, err = route.BuildSend(self, dir, 1, table, route.DefaultEpsilon)
	require.Error(t, err)
}
