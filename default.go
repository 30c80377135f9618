package tango

import (
	"context"
	"sync"

	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/transport"
)

var (
	defaultOnce    sync.Once
	defaultCoupler *Coupler
)

func defaultInstance() *Coupler {
	defaultOnce.Do(func() {
		defaultCoupler = New(couplerlog.New(), false)
	})
	return defaultCoupler
}

// Init, BeginTransfer, Put, Get, EndTransfer and Finalize mirror
// Coupler's methods on a process-wide default instance, matching the
// free-function shape of the original tango_init/tango_put/... API.
// Most programs want exactly one Coupler per process and can use these
// directly instead of constructing one with New.

func Init(ctx context.Context, tr transport.CollectiveTransport, cfgDir, gridName string, local, global grid.Box) error {
	return defaultInstance().Init(ctx, tr, cfgDir, gridName, local, global)
}

func BeginTransfer(timestep int, peerGrid string) error {
	return defaultInstance().BeginTransfer(timestep, peerGrid)
}

func Put(field string, buf []float64, n int) error {
	return defaultInstance().Put(field, buf, n)
}

func Get(field string, buf []float64, n int) error {
	return defaultInstance().Get(field, buf, n)
}

func EndTransfer(ctx context.Context) error {
	return defaultInstance().EndTransfer(ctx)
}

func Finalize() error {
	return defaultInstance().Finalize()
}
