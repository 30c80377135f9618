// Package route implements RouteBuilder and RoutingPlan: joining owned
// points, a WeightTable, and a PeerDirectory into the per-peer send and
// receive routes TransferEngine packs and accumulates against.
package route

import (
	"math"
	"sort"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/peers"
	"github.com/tango-coupler/tango/pkg/weights"
)

// DefaultEpsilon is the threshold below which a weight is discarded as
// negligible. The reference source's value of 1e12 used as a lower bound
// on |w| is inverted — see §9 Open Questions; this package's ε means
// "discard |w| <= ε".
const DefaultEpsilon = 1e-12

// PeerRoute is one peer's slice of a route: the local global indices this
// process exchanges with that peer, and the weight attached to each.
// Points/Weights are parallel arrays, ordered by the underlying
// WeightEntry's (src_global_idx, dst_global_idx) pair, so that a send-side
// and its paired recv-side agree on order without further coordination.
//
// SrcKeys carries the originating src_global_idx of each entry (for a send
// route this equals Points; for a recv route it is the remote source
// point, not locally owned) — TransferEngine's optional deterministic
// accumulation mode sorts contributions by (peer_rank, SrcKeys[k]) rather
// than arrival order.
type PeerRoute struct {
	Peer    int
	Points  []int
	SrcKeys []int
	Weights []float64
}

type orderedEntry struct {
	src, dst int
	w        float64
}

// BuildSend constructs, for one destination grid, the routes describing
// which local source points this process must send, grouped by the
// remote rank on destGridID that owns the matching destination point.
//
// table must be the (self -> destGridID) WeightTable. Peers with no
// matched entries are dropped (the "clean unreferenced" step); each
// peer's entries are sorted by (src, dst) to pin ordering.
func BuildSend(self *grid.Descriptor, dir *peers.Directory, destGridID int, table *weights.Table, eps float64) ([]PeerRoute, error) {
	byPeer := make(map[int][]orderedEntry)
	for _, e := range table.Entries() {
		if !self.Contains(e.Src) {
			continue
		}
		if math.Abs(e.W) <= eps {
			continue
		}
		peerRank, ok := dir.Owner(destGridID, e.Dst)
		if !ok {
			return nil, couplererr.Topology(self.Name(),
				"no peer on destination grid owns global index %d", e.Dst)
		}
		byPeer[peerRank] = append(byPeer[peerRank], orderedEntry{src: e.Src, dst: e.Dst, w: e.W})
	}
	return buildPeerRoutes(byPeer, func(oe orderedEntry) int { return oe.src }, func(oe orderedEntry) int { return oe.src }), nil
}

// BuildRecv constructs, for one source grid, the routes describing which
// local destination points this process must receive, grouped by the
// remote rank on srcGridID that owns the matching source point.
//
// table must be the (srcGridID -> self) WeightTable.
func BuildRecv(self *grid.Descriptor, dir *peers.Directory, srcGridID int, table *weights.Table, eps float64) ([]PeerRoute, error) {
	byPeer := make(map[int][]orderedEntry)
	for _, e := range table.Entries() {
		if !self.Contains(e.Dst) {
			continue
		}
		if math.Abs(e.W) <= eps {
			continue
		}
		peerRank, ok := dir.Owner(srcGridID, e.Src)
		if !ok {
			return nil, couplererr.Topology(self.Name(),
				"no peer on source grid owns global index %d", e.Src)
		}
		byPeer[peerRank] = append(byPeer[peerRank], orderedEntry{src: e.Src, dst: e.Dst, w: e.W})
	}
	return buildPeerRoutes(byPeer, func(oe orderedEntry) int { return oe.dst }, func(oe orderedEntry) int { return oe.src }), nil
}

func buildPeerRoutes(byPeer map[int][]orderedEntry, point, key func(orderedEntry) int) []PeerRoute {
	routes := make([]PeerRoute, 0, len(byPeer))
	for peer, entries := range byPeer {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].src != entries[j].src {
				return entries[i].src < entries[j].src
			}
			return entries[i].dst < entries[j].dst
		})
		pr := PeerRoute{
			Peer:    peer,
			Points:  make([]int, len(entries)),
			SrcKeys: make([]int, len(entries)),
			Weights: make([]float64, len(entries)),
		}
		for i, e := range entries {
			pr.Points[i] = point(e)
			pr.SrcKeys[i] = key(e)
			pr.Weights[i] = e.w
		}
		routes = append(routes, pr)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Peer < routes[j].Peer })
	return routes
}

// Plan is RoutingPlan: the pruned, immutable, read-only set of send and
// receive routes for every coupled grid, built once by build_routing_rules
// and shared for the process's lifetime.
type Plan struct {
	Send map[int][]PeerRoute // destGridID -> routes
	Recv map[int][]PeerRoute // srcGridID -> routes
}

// NewPlan assembles an empty plan; callers populate Send/Recv per grid
// pair using BuildSend/BuildRecv, one independent WeightTable load per
// grid pair as §4.3 requires (a table never outlives the pass that built
// its routes).
func NewPlan() *Plan {
	return &Plan{Send: make(map[int][]PeerRoute), Recv: make(map[int][]PeerRoute)}
}
