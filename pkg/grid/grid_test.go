package grid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/grid"
)

func TestNew_FullOwnership(t *testing.T) {
	d, err := grid.New("ocean", 0,
		grid.Box{IS: 0, IE: 4, JS: 0, JE: 4},
		grid.Box{IS: 0, IE: 4, JS: 0, JE: 4})
	require.NoError(t, err)
	require.Equal(t, 16, d.NumOwned())
	require.True(t, d.Contains(0))
	require.True(t, d.Contains(15))
	require.False(t, d.Contains(16))
}

func TestNew_InvalidLocalBox(t *testing.T) {
	_, err := grid.New("ocean", 0,
		grid.Box{IS: -1, IE: 4, JS: 0, JE: 4},
		grid.Box{IS: 0, IE: 4, JS: 0, JE: 4})
	require.Error(t, err)

	_, err = grid.New("ocean", 0,
		grid.Box{IS: 0, IE: 5, JS: 0, JE: 4},
		grid.Box{IS: 0, IE: 4, JS: 0, JE: 4})
	require.Error(t, err)
}

func TestDisjointQuadrants(t *testing.T) {
	global := grid.Box{IS: 0, IE: 4, JS: 0, JE: 4}
	q := []grid.Box{
		{IS: 0, IE: 2, JS: 0, JE: 2},
		{IS: 0, IE: 2, JS: 2, JE: 4},
		{IS: 2, IE: 4, JS: 0, JE: 2},
		{IS: 2, IE: 4, JS: 2, JE: 4},
	}
	seen := map[int]bool{}
	for rank, box := range q {
		d, err := grid.New("g", rank, box, global)
		require.NoError(t, err)
		for _, p := range d.OwnedPoints() {
			require.False(t, seen[p], "point %d owned twice", p)
			seen[p] = true
		}
	}
	require.Len(t, seen, 16)
}

func TestLocalOffset(t *testing.T) {
	d, err := grid.New("atm", 1,
		grid.Box{IS: 2, IE: 4, JS: 0, JE: 4},
		grid.Box{IS: 0, IE: 4, JS: 0, JE: 4})
	require.NoError(t, err)

	off, ok := d.LocalOffset(2*4 + 1) // row 2, col 1 -> local row 0, col 1
	require.True(t, ok)
	require.Equal(t, 1, off)

	_, ok = d.LocalOffset(0)
	require.False(t, ok)
}
