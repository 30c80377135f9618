// Package peers implements PeerDirectory: the all-to-all description
// exchange that gives every process an identical view of who owns what,
// built on one rooted gather followed by one broadcast over
// CollectiveTransport, mirroring the original router's
// exchange_descriptions.
package peers

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/transport"
)

// recordSize is the fixed width, in int64 fields, of one marshalled
// description record: grid_id, rank, lis, lie, ljs, lje — the original
// DESCRIPTION_SIZE=6 layout.
const recordSize = 6

// Record is one process's description: which grid it belongs to, its
// global rank, and the local box it owns on that grid.
type Record struct {
	GridID int
	Rank   int
	Local  grid.Box
}

func marshal(r Record) []byte {
	buf := make([]byte, recordSize*8)
	vals := [recordSize]int64{
		int64(r.GridID), int64(r.Rank),
		int64(r.Local.IS), int64(r.Local.IE),
		int64(r.Local.JS), int64(r.Local.JE),
	}
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func unmarshalOne(buf []byte) Record {
	var vals [recordSize]int64
	for i := range vals {
		vals[i] = int64(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return Record{
		GridID: int(vals[0]),
		Rank:   int(vals[1]),
		Local:  grid.Box{IS: int(vals[2]), IE: int(vals[3]), JS: int(vals[4]), JE: int(vals[5])},
	}
}

func unmarshalAll(buf []byte) ([]Record, error) {
	width := recordSize * 8
	if len(buf)%width != 0 {
		return nil, fmt.Errorf("peers: malformed description block of %d bytes", len(buf))
	}
	out := make([]Record, 0, len(buf)/width)
	for off := 0; off < len(buf); off += width {
		out = append(out, unmarshalOne(buf[off:off+width]))
	}
	return out, nil
}

// exchangeEpoch is the fixed epoch for the one-shot description exchange
// performed once at init; no repeated call ever shares this tag space.
const exchangeEpoch = 0

// Exchange runs the gather+broadcast description protocol — every process
// sends its own Record to rank 0, which concatenates and broadcasts the
// full ordered set back out — and returns every participant's record,
// ordered by rank. Equivalent to an all-gather.
func Exchange(ctx context.Context, tr transport.CollectiveTransport, self Record) ([]Record, error) {
	gridTag := fmt.Sprintf("grid#%d", self.GridID)

	gathered, err := tr.Gather(ctx, 0, exchangeEpoch, marshal(self))
	if err != nil {
		return nil, couplererr.Transport(gridTag, err, "gathering peer descriptions")
	}

	var blob []byte
	if tr.Rank() == 0 {
		var buf bytes.Buffer
		for _, rec := range gathered {
			buf.Write(rec)
		}
		blob = buf.Bytes()
	}

	full, err := tr.Broadcast(ctx, 0, exchangeEpoch, blob)
	if err != nil {
		return nil, couplererr.Transport(gridTag, err, "broadcasting peer descriptions")
	}
	records, err := unmarshalAll(full)
	if err != nil {
		return nil, couplererr.Protocol(gridTag, "decoding broadcast description block: %v", err)
	}
	return records, nil
}

// Directory is PeerDirectory: the filtered, validated view of every
// process relevant to this grid's configured communication, plus a dense
// global_idx -> rank lookup per relevant grid.
type Directory struct {
	self   Record
	byGrid map[int][]Record
	lookup map[int]map[int]int
}

// Build filters the full exchanged record set down to the grids this
// process actually communicates with (relevantGrids, keyed by grid id,
// mapping to that grid's global box), validates that each grid's
// retained peers are pairwise disjoint and cover the global box, and
// builds the dense global_idx -> rank map RouteBuilder joins against.
func Build(self Record, all []Record, relevantGrids map[int]grid.Box) (*Directory, error) {
	byGrid := make(map[int][]Record)
	for _, r := range all {
		if _, ok := relevantGrids[r.GridID]; ok {
			byGrid[r.GridID] = append(byGrid[r.GridID], r)
		}
	}

	for gid, global := range relevantGrids {
		peersOf := byGrid[gid]
		sort.Slice(peersOf, func(i, j int) bool { return peersOf[i].Rank < peersOf[j].Rank })
		if err := validateCoverage(gid, global, peersOf); err != nil {
			return nil, err
		}
	}

	lookup := make(map[int]map[int]int, len(relevantGrids))
	for gid, global := range relevantGrids {
		cols := global.Cols()
		idx := make(map[int]int, global.Rows()*global.Cols())
		for _, r := range byGrid[gid] {
			for i := r.Local.IS; i < r.Local.IE; i++ {
				base := i * cols
				for j := r.Local.JS; j < r.Local.JE; j++ {
					idx[base+j] = r.Rank
				}
			}
		}
		lookup[gid] = idx
	}

	return &Directory{self: self, byGrid: byGrid, lookup: lookup}, nil
}

// validateCoverage checks that peersOf's local boxes are pairwise
// disjoint and that their union exactly covers global — overlap or gap
// is a TopologyError. The reference source leaves this as a FIXME; it is
// mandatory here.
func validateCoverage(gridID int, global grid.Box, peersOf []Record) error {
	gridTag := fmt.Sprintf("grid#%d", gridID)
	covered := make(map[int]struct{}, global.Rows()*global.Cols())
	cols := global.Cols()
	for _, r := range peersOf {
		for i := r.Local.IS; i < r.Local.IE; i++ {
			base := i * cols
			for j := r.Local.JS; j < r.Local.JE; j++ {
				gidx := base + j
				if _, dup := covered[gidx]; dup {
					return couplererr.Topology(gridTag,
						"peer rank %d's local box overlaps another peer at global index %d", r.Rank, gidx)
				}
				covered[gidx] = struct{}{}
			}
		}
	}
	want := global.Rows() * global.Cols()
	if len(covered) != want {
		return couplererr.Topology(gridTag,
			"peer local boxes cover %d of %d global points, gap detected", len(covered), want)
	}
	return nil
}

// Peers returns the rank-ordered peer records on grid gridID.
func (d *Directory) Peers(gridID int) []Record {
	return d.byGrid[gridID]
}

// Owner returns the rank owning global index gidx on grid gridID.
func (d *Directory) Owner(gridID, gidx int) (int, bool) {
	idx, ok := d.lookup[gridID]
	if !ok {
		return 0, false
	}
	rank, ok := idx[gidx]
	return rank, ok
}

// Self returns this process's own record.
func (d *Directory) Self() Record { return d.self }
