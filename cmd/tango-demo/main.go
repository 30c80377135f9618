// tango-demo is a two-rank demonstration of the coupler runtime,
// reproducing the atmosphere/ocean put loop from the reference test
// program: one "atm" rank putting air_temp and sw_flux every timestep,
// one "ocn" rank getting them, both running as goroutines over an
// in-memory transport inside a single process.
//
// It expects a config directory already populated with config.yaml
// declaring "atm" sending air_temp/sw_flux to "ocn", and the matching
// atm_to_ocn_rmp.nc weight file produced by a regridding tool — this
// program never synthesizes weights itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tango-coupler/tango"
	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/metrics"
	"github.com/tango-coupler/tango/pkg/transport"
)

const (
	numTimesteps    = 100
	secsPerTimestep = 1
	numPoints       = 10
)

func runAtm(ctx context.Context, log couplerlog.Logger, tr transport.CollectiveTransport, cfgDir string) error {
	c := tango.New(log, false)
	box := grid.Box{IS: 0, IE: 1, JS: 0, JE: numPoints}
	if err := c.Init(ctx, tr, cfgDir, "atm", box, box); err != nil {
		return fmt.Errorf("atm init: %w", err)
	}
	defer c.Finalize()

	airTemp := make([]float64, numPoints)
	swFlux := make([]float64, numPoints)
	for i := range airTemp {
		airTemp[i] = 288.0
		swFlux[i] = 200.0
	}

	timestep := 0
	for i := 0; i < numTimesteps; i++ {
		if err := c.BeginTransfer(timestep, "ocn"); err != nil {
			return fmt.Errorf("atm begin_transfer(%d): %w", timestep, err)
		}
		if err := c.Put("air_temp", airTemp, numPoints); err != nil {
			return fmt.Errorf("atm put(air_temp): %w", err)
		}
		if err := c.Put("sw_flux", swFlux, numPoints); err != nil {
			return fmt.Errorf("atm put(sw_flux): %w", err)
		}
		if err := c.EndTransfer(ctx); err != nil {
			return fmt.Errorf("atm end_transfer(%d): %w", timestep, err)
		}
		timestep += secsPerTimestep
	}
	return nil
}

func runOcn(ctx context.Context, log couplerlog.Logger, tr transport.CollectiveTransport, cfgDir string) error {
	c := tango.New(log, false)
	box := grid.Box{IS: 0, IE: 1, JS: 0, JE: numPoints}
	if err := c.Init(ctx, tr, cfgDir, "ocn", box, box); err != nil {
		return fmt.Errorf("ocn init: %w", err)
	}
	defer c.Finalize()

	airTemp := make([]float64, numPoints)
	swFlux := make([]float64, numPoints)

	timestep := 0
	for i := 0; i < numTimesteps; i++ {
		if err := c.BeginTransfer(timestep, "atm"); err != nil {
			return fmt.Errorf("ocn begin_transfer(%d): %w", timestep, err)
		}
		if err := c.Get("air_temp", airTemp, numPoints); err != nil {
			return fmt.Errorf("ocn get(air_temp): %w", err)
		}
		if err := c.Get("sw_flux", swFlux, numPoints); err != nil {
			return fmt.Errorf("ocn get(sw_flux): %w", err)
		}
		if err := c.EndTransfer(ctx); err != nil {
			return fmt.Errorf("ocn end_transfer(%d): %w", timestep, err)
		}
		timestep += secsPerTimestep
	}
	log.Info("received final fields", "air_temp[0]", airTemp[0], "sw_flux[0]", swFlux[0])
	return nil
}

func main() {
	cfgDir := flag.String("config-dir", ".", "directory containing config.yaml and the atm_to_ocn_rmp.nc weight file")
	flag.Parse()

	metrics.Register()

	log := couplerlog.New()
	ctx := context.Background()
	cluster := transport.NewMemoryCluster(2)

	errs := make(chan error, 2)
	go func() { errs <- runAtm(ctx, log.With("grid", "atm"), cluster[0], *cfgDir) }()
	go func() { errs <- runOcn(ctx, log.With("grid", "ocn"), cluster[1], *cfgDir) }()

	var failed bool
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			fmt.Fprintln(os.Stderr, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
