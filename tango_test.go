package tango_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango"
	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/transport"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInit_UnknownGridIsConfigError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "grids:\n  - name: atm\n    destinations:\n      - name: ocn\n        vars: [sst]\n")

	c := tango.New(couplerlog.Nop(), false)
	cluster := transport.NewMemoryCluster(1)
	box := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}

	err := c.Init(context.Background(), cluster[0], dir, "land", box, box)
	require.Error(t, err)
	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindConfig, e.Kind)
}

func TestInit_UnknownPeerGridIsConfigError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "grids:\n  - name: atm\n    destinations:\n      - name: missing_grid\n        vars: [sst]\n")

	c := tango.New(couplerlog.Nop(), false)
	cluster := transport.NewMemoryCluster(1)
	box := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}

	err := c.Init(context.Background(), cluster[0], dir, "atm", box, box)
	require.Error(t, err)
	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindConfig, e.Kind)
}

func TestInit_MissingWeightFileIsIOError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
grids:
  - name: atm
    destinations:
      - name: ocn
        vars: [sst]
  - name: ocn
`)

	cluster := transport.NewMemoryCluster(2)
	box := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}

	errs := make(chan error, 2)
	go func() {
		c := tango.New(couplerlog.Nop(), false)
		errs <- c.Init(context.Background(), cluster[0], dir, "atm", box, box)
	}()
	go func() {
		c := tango.New(couplerlog.Nop(), false)
		errs <- c.Init(context.Background(), cluster[1], dir, "ocn", box, box)
	}()

	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		e, ok := couplererr.As(err)
		require.True(t, ok)
		require.Equal(t, couplererr.KindIO, e.Kind)
		require.Contains(t, err.Error(), "atm_to_ocn_rmp.nc")
	}
}

func TestInit_CalledTwiceIsConfigError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "grids:\n  - name: atm\n")

	c := tango.New(couplerlog.Nop(), false)
	cluster := transport.NewMemoryCluster(1)
	box := grid.Box{IS: 0, IE: 2, JS: 0, JE: 2}

	require.NoError(t, c.Init(context.Background(), cluster[0], dir, "atm", box, box))
	err := c.Init(context.Background(), cluster[0], dir, "atm", box, box)
	require.Error(t, err)
	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindConfig, e.Kind)
}

func TestBeginTransfer_BeforeInitIsProtocolError(t *testing.T) {
	c := tango.New(couplerlog.Nop(), false)
	err := c.BeginTransfer(1, "ocn")
	require.Error(t, err)
	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindProtocol, e.Kind)
}

func TestFinalize_BeforeInitIsProtocolError(t *testing.T) {
	c := tango.New(couplerlog.Nop(), false)
	err := c.Finalize()
	require.Error(t, err)
	e, ok := couplererr.As(err)
	require.True(t, ok)
	require.Equal(t, couplererr.KindProtocol, e.Kind)
}
