// Package tango is the coupler runtime's public entry point: init, the
// begin/put/get/end transfer cycle, and finalize, wired over the
// routing (grid/peers/weights/route) and transfer packages.
package tango

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/couplerconfig"
	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/metrics"
	"github.com/tango-coupler/tango/pkg/peers"
	"github.com/tango-coupler/tango/pkg/route"
	"github.com/tango-coupler/tango/pkg/transfer"
	"github.com/tango-coupler/tango/pkg/transport"
	"github.com/tango-coupler/tango/pkg/weights"
)

// weightFileExt is the extension used by the weight-file path convention
// <cfg_dir>/<src>_to_<dst>_rmp.<ext>; ESMF_RegridWeightGen emits classic
// NetCDF, so this is fixed rather than configurable.
const weightFileExt = "nc"

const configFileName = "config.yaml"

// Coupler holds one process's routing plan and transfer state for the
// life of one init/finalize cycle. The zero value is not usable; build
// one with New.
type Coupler struct {
	log           couplerlog.Logger
	deterministic bool

	mu     sync.Mutex
	cfg    *couplerconfig.Config
	self   *grid.Descriptor
	tr     transport.CollectiveTransport
	plan   *route.Plan
	engine *transfer.Engine
}

// New builds an uninitialized Coupler. Call Init before any other
// method. deterministic enables TransferEngine's sorted-accumulation
// mode (§4.5's bitwise-reproducible option); off by default elsewhere.
func New(log couplerlog.Logger, deterministic bool) *Coupler {
	return &Coupler{log: log, deterministic: deterministic}
}

// Init validates the local box, loads the configuration file, runs the
// PeerDirectory description exchange, loads every configured weight
// file this grid touches, and builds the RoutingPlan. One-shot: a
// second call returns a ConfigError.
func (c *Coupler) Init(ctx context.Context, tr transport.CollectiveTransport, cfgDir, gridName string, local, global grid.Box) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return couplererr.Config(gridName, "init called more than once")
	}

	cfg, err := couplerconfig.Load(filepath.Join(cfgDir, configFileName))
	if err != nil {
		return err
	}
	selfGridID, ok := cfg.GridID(gridName)
	if !ok {
		return couplererr.Config(gridName, "grid %q is not declared in %s", gridName, configFileName)
	}

	desc, err := grid.New(gridName, tr.Rank(), local, global)
	if err != nil {
		return err
	}

	self := peers.Record{GridID: selfGridID, Rank: tr.Rank(), Local: local}
	exchangeStart := time.Now()
	all, err := peers.Exchange(ctx, tr, self)
	metrics.PeerExchangeDuration.WithLabelValues(gridName).Observe(time.Since(exchangeStart).Seconds())
	if err != nil {
		return err
	}

	dests := cfg.Destinations(gridName)
	srcs := cfg.Sources(gridName)

	if err := checkFieldTagCollisions(gridName, dests, srcs); err != nil {
		return err
	}

	gridIDs := make(map[string]int, len(dests)+len(srcs))
	for _, names := range []map[string][]string{dests, srcs} {
		for peerName := range names {
			id, ok := cfg.GridID(peerName)
			if !ok {
				return couplererr.Config(gridName, "grid %q names peer %q which is not declared in %s", gridName, peerName, configFileName)
			}
			gridIDs[peerName] = id
		}
	}

	globalBoxes := map[int]grid.Box{selfGridID: global}
	for _, id := range gridIDs {
		if _, ok := globalBoxes[id]; ok {
			continue
		}
		box, ok := inferGlobalBox(all, id)
		if !ok {
			return couplererr.Topology(gridName, "no peer descriptions received for grid id %d", id)
		}
		globalBoxes[id] = box
	}

	dir, err := peers.Build(self, all, globalBoxes)
	if err != nil {
		return err
	}

	plan := route.NewPlan()
	for peerName, id := range gridIDs {
		if _, isDest := dests[peerName]; isDest {
			table, err := weights.Load(weights.Path(cfgDir, gridName, peerName, weightFileExt))
			if err != nil {
				return err
			}
			metrics.WeightEntriesLoaded.WithLabelValues(gridName, peerName).Set(float64(table.Len()))

			buildStart := time.Now()
			sendRoutes, err := route.BuildSend(desc, dir, id, table, cfg.WeightEpsilon)
			metrics.RouteBuildDuration.WithLabelValues(gridName, peerName, "send").Observe(time.Since(buildStart).Seconds())
			if err != nil {
				return err
			}
			plan.Send[id] = sendRoutes
		}
		if _, isSrc := srcs[peerName]; isSrc {
			table, err := weights.Load(weights.Path(cfgDir, peerName, gridName, weightFileExt))
			if err != nil {
				return err
			}
			metrics.WeightEntriesLoaded.WithLabelValues(peerName, gridName).Set(float64(table.Len()))

			buildStart := time.Now()
			recvRoutes, err := route.BuildRecv(desc, dir, id, table, cfg.WeightEpsilon)
			metrics.RouteBuildDuration.WithLabelValues(gridName, peerName, "recv").Observe(time.Since(buildStart).Seconds())
			if err != nil {
				return err
			}
			plan.Recv[id] = recvRoutes
		}
	}

	c.cfg = cfg
	c.self = desc
	c.tr = tr
	c.plan = plan
	c.engine = transfer.New(c.log, desc, tr, plan, gridIDs, c.deterministic)
	return nil
}

// checkFieldTagCollisions rejects a configuration where two distinct field
// names flowing between gridName and the same peer grid would hash to the
// same wire tag (fieldTag is keyed only by field name and the two grid
// names, in canonical order, so a send to a peer and a recv from that same
// peer share one tag space). Run once at init, over every field the config
// declares, rather than discovered lazily the first time two such fields
// happen to be Put/Get in the same window.
func checkFieldTagCollisions(gridName string, dests, srcs map[string][]string) error {
	fieldsByPeer := make(map[string][]string, len(dests)+len(srcs))
	for peerName, vars := range dests {
		fieldsByPeer[peerName] = append(fieldsByPeer[peerName], vars...)
	}
	for peerName, vars := range srcs {
		fieldsByPeer[peerName] = append(fieldsByPeer[peerName], vars...)
	}

	for peerName, fields := range fieldsByPeer {
		tags := make(map[uint64]string, len(fields))
		for _, field := range fields {
			tag := transfer.FieldTag(field, gridName, peerName)
			if other, ok := tags[tag]; ok && other != field {
				return couplererr.Config(gridName, "fields %q and %q both hash to tag %d for peer grid %q", other, field, tag, peerName)
			}
			tags[tag] = field
		}
	}
	return nil
}

// inferGlobalBox derives a grid's global box as the bounding box of every
// peer record naming it. PeerDirectory's coverage validation guarantees
// local boxes are pairwise disjoint and exactly tile the global box, so
// the bounding box of a fully-reported grid equals its global box exactly
// — the config file never states a peer grid's dimensions, only the
// process's own, so this is the only information a process has about a
// grid it does not itself belong to.
func inferGlobalBox(all []peers.Record, gridID int) (grid.Box, bool) {
	var box grid.Box
	found := false
	for _, r := range all {
		if r.GridID != gridID {
			continue
		}
		if !found {
			box, found = r.Local, true
			continue
		}
		if r.Local.IS < box.IS {
			box.IS = r.Local.IS
		}
		if r.Local.IE > box.IE {
			box.IE = r.Local.IE
		}
		if r.Local.JS < box.JS {
			box.JS = r.Local.JS
		}
		if r.Local.JE > box.JE {
			box.JE = r.Local.JE
		}
	}
	return box, found
}

// Plan returns the routing plan built at Init, for diagnostic inspection
// (tangoctl's describe subcommand). Nil before Init.
func (c *Coupler) Plan() *route.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Grid returns the local grid descriptor built at Init. Nil before Init.
func (c *Coupler) Grid() *grid.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Coupler) engineOrErr() (*transfer.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil, couplererr.Protocol("", "coupler method called before init")
	}
	return c.engine, nil
}

// BeginTransfer opens a transfer window against peerGrid for timestep.
func (c *Coupler) BeginTransfer(timestep int, peerGrid string) error {
	e, err := c.engineOrErr()
	if err != nil {
		return err
	}
	return e.BeginTransfer(timestep, peerGrid)
}

// Put queues field for delivery when the open window ends.
func (c *Coupler) Put(field string, buf []float64, n int) error {
	e, err := c.engineOrErr()
	if err != nil {
		return err
	}
	return e.Put(field, buf, n)
}

// Get queues field to be populated when the open window ends.
func (c *Coupler) Get(field string, buf []float64, n int) error {
	e, err := c.engineOrErr()
	if err != nil {
		return err
	}
	return e.Get(field, buf, n)
}

// EndTransfer flushes the open window's puts and gets, waits for
// completion, and barriers the coupled subset.
func (c *Coupler) EndTransfer(ctx context.Context) error {
	e, err := c.engineOrErr()
	if err != nil {
		return err
	}
	return e.EndTransfer(ctx)
}

// Finalize releases the routing plan and transport. The Coupler is not
// reusable afterward.
func (c *Coupler) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return couplererr.Protocol("", "finalize called before init")
	}
	err := c.tr.Close()
	c.engine = nil
	c.plan = nil
	c.self = nil
	c.cfg = nil
	if err != nil {
		return couplererr.Transport("", err, "closing transport at finalize")
	}
	return nil
}
