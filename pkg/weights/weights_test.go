package weights_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/weights"
)

func TestBySrc(t *testing.T) {
	table := weights.NewForTest([]weights.Entry{
		{Src: 1, Dst: 10, W: 0.5},
		{Src: 1, Dst: 11, W: 0.5},
		{Src: 2, Dst: 12, W: 1.0},
	})

	require.Equal(t, 3, table.Len())
	require.Len(t, table.BySrc(1), 2)
	require.Len(t, table.BySrc(2), 1)
	require.Nil(t, table.BySrc(99))
}

func TestPath(t *testing.T) {
	require.Equal(t, "/cfg/atm_to_ocean_rmp.nc", weights.Path("/cfg", "atm", "ocean", "nc"))
}

func TestLoad_MissingFileIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atm_to_ocn_rmp.nc")
	_, err := weights.Load(path)
	require.Error(t, err)

	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindIO, e.Kind)
	require.Contains(t, err.Error(), path)
}
