// Package weights implements WeightTable: the sparse (src, dst, weight)
// mapping loaded from one ESMF-style remapping-weight file.
package weights

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ctessum/cdf"

	"github.com/tango-coupler/tango/pkg/couplererr"
)

// Entry is one (src_gidx, dst_gidx, w) triple from a weight file.
type Entry struct {
	Src int
	Dst int
	W   float64
}

// Table is the sparse weight matrix for one (src grid -> dst grid) pair,
// scoped to a single RouteBuilder pass: callers load it, consume it, and
// let it go out of scope before loading the next pair's file.
type Table struct {
	entries []Entry
	bySrc   map[int][]int // lazily built index: src -> positions in entries
}

// Path returns the conventional weight-file path for the (src, dst) pair
// under cfgDir, per the specification's "<src>_to_<dst>_rmp.<ext>" rule.
func Path(cfgDir, src, dst, ext string) string {
	return fmt.Sprintf("%s/%s_to_%s_rmp.%s", cfgDir, src, dst, ext)
}

// Load reads the col/row/S variables from a NetCDF weight file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, couplererr.IO("", err, "opening weight file %s", path)
	}
	defer f.Close()

	nc, err := cdf.Open(f)
	if err != nil {
		return nil, couplererr.IO("", err, "reading NetCDF header of %s", path)
	}
	h := nc.Header

	col, err := readInts(nc, h, "col", path)
	if err != nil {
		return nil, err
	}
	row, err := readInts(nc, h, "row", path)
	if err != nil {
		return nil, err
	}
	s, err := readFloats(nc, h, "S", path)
	if err != nil {
		return nil, err
	}

	if len(col) != len(row) || len(row) != len(s) {
		return nil, couplererr.Format("", "weight file %s: col/row/S length mismatch (%d/%d/%d)",
			path, len(col), len(row), len(s))
	}

	entries := make([]Entry, len(col))
	for i := range entries {
		entries[i] = Entry{Src: col[i], Dst: row[i], W: s[i]}
	}
	return &Table{entries: entries}, nil
}

func readInts(nc *cdf.File, h *cdf.Header, name, path string) ([]int, error) {
	dims := h.Lengths(name)
	if dims == nil {
		return nil, couplererr.Format("", "weight file %s: missing variable %q", path, name)
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	r := nc.Reader(name, nil, nil)
	raw := make([]int32, n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, couplererr.Format("", "weight file %s: reading variable %q: %v", path, name, err)
	}
	out := make([]int, n)
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

func readFloats(nc *cdf.File, h *cdf.Header, name, path string) ([]float64, error) {
	dims := h.Lengths(name)
	if dims == nil {
		return nil, couplererr.Format("", "weight file %s: missing variable %q", path, name)
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	r := nc.Reader(name, nil, nil)
	out := make([]float64, n)
	if err := binary.Read(r, binary.BigEndian, out); err != nil {
		return nil, couplererr.Format("", "weight file %s: reading variable %q: %v", path, name, err)
	}
	return out, nil
}

// Entries returns the table's (src, dst, w) triples in file order.
func (t *Table) Entries() []Entry { return t.entries }

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.entries) }

// BySrc returns the entries whose Src equals src, in file order, building
// the src-keyed index lazily on first use.
func (t *Table) BySrc(src int) []Entry {
	if t.bySrc == nil {
		t.bySrc = make(map[int][]int, len(t.entries))
		for i, e := range t.entries {
			t.bySrc[e.Src] = append(t.bySrc[e.Src], i)
		}
	}
	idxs := t.bySrc[src]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Entry, len(idxs))
	for i, idx := range idxs {
		out[i] = t.entries[idx]
	}
	return out
}

// NewForTest builds a Table directly from entries, for use by tests and
// by callers that already have weight data in memory.
func NewForTest(entries []Entry) *Table {
	return &Table{entries: entries}
}
