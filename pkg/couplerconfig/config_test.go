package couplerconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/couplerconfig"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_GridIDsByPosition(t *testing.T) {
	path := writeConfig(t, `
grids:
  - name: atm
    destinations:
      - name: ocn
        vars: [sst, wind]
  - name: ocn
    destinations:
      - name: atm
        vars: [sst]
weight_epsilon: 1e-10
`)
	cfg, err := couplerconfig.Load(path)
	require.NoError(t, err)

	id, ok := cfg.GridID("atm")
	require.True(t, ok)
	require.Equal(t, 0, id)

	id, ok = cfg.GridID("ocn")
	require.True(t, ok)
	require.Equal(t, 1, id)

	require.InDelta(t, 1e-10, cfg.WeightEpsilon, 1e-20)
	require.Equal(t, map[string][]string{"ocn": {"sst", "wind"}}, cfg.Destinations("atm"))
	require.Equal(t, map[string][]string{"atm": {"sst", "wind"}}, cfg.Sources("ocn"))
}

func TestLoad_DefaultEpsilon(t *testing.T) {
	path := writeConfig(t, `
grids:
  - name: atm
    destinations:
      - name: ocn
        vars: [sst]
`)
	cfg, err := couplerconfig.Load(path)
	require.NoError(t, err)
	require.InDelta(t, 1e-12, cfg.WeightEpsilon, 1e-24)
}

func TestLoad_EmptyGridsIsConfigError(t *testing.T) {
	path := writeConfig(t, "grids: []\n")
	_, err := couplerconfig.Load(path)
	require.Error(t, err)
}

func TestLoad_DuplicateGridNameIsConfigError(t *testing.T) {
	path := writeConfig(t, `
grids:
  - name: atm
    destinations:
      - name: ocn
        vars: [sst]
  - name: atm
    destinations:
      - name: ocn
        vars: [sst]
`)
	_, err := couplerconfig.Load(path)
	require.Error(t, err)
}
