// Package grid implements GridDescriptor: a participant's identity on one
// logically rectangular 2-D grid, and the arithmetic for translating
// between local cells and global point indices.
package grid

import (
	"github.com/tango-coupler/tango/pkg/couplererr"
)

// Box is a half-open rectangular index range [IS,IE) x [JS,JE).
type Box struct {
	IS, IE int
	JS, JE int
}

// Rows reports the number of rows spanned by the box.
func (b Box) Rows() int { return b.IE - b.IS }

// Cols reports the number of columns spanned by the box.
func (b Box) Cols() int { return b.JE - b.JS }

// Contains reports whether the cell (i, j) falls inside the box.
func (b Box) Contains(i, j int) bool {
	return i >= b.IS && i < b.IE && j >= b.JS && j < b.JE
}

// Descriptor is a process's immutable identity on one grid: its name, its
// local and global index boxes, and its rank. Global index i,j <->
// i*Cols(global)+j, so owned-point membership, offsets, and enumeration
// are all arithmetic over the local/global boxes — no point set is
// materialized.
type Descriptor struct {
	name   string
	local  Box
	global Box
	rank   int
}

// New validates the local box sits inside the global box. The global
// index of cell (i, j) is i*Cols(global)+j, per the specification's data
// model.
func New(name string, rank int, local, global Box) (*Descriptor, error) {
	if !(global.IS <= local.IS && local.IS < local.IE && local.IE <= global.IE) {
		return nil, couplererr.Config(name, "invalid local row box [%d,%d) within global [%d,%d)",
			local.IS, local.IE, global.IS, global.IE)
	}
	if !(global.JS <= local.JS && local.JS < local.JE && local.JE <= global.JE) {
		return nil, couplererr.Config(name, "invalid local col box [%d,%d) within global [%d,%d)",
			local.JS, local.JE, global.JS, global.JE)
	}

	return &Descriptor{name: name, local: local, global: global, rank: rank}, nil
}

// Name returns the grid's configured name.
func (d *Descriptor) Name() string { return d.name }

// Rank returns the owning process's rank.
func (d *Descriptor) Rank() int { return d.rank }

// Local returns the process's local index box.
func (d *Descriptor) Local() Box { return d.local }

// Global returns the grid's global index box.
func (d *Descriptor) Global() Box { return d.global }

// NumOwned returns the number of global points this process owns.
func (d *Descriptor) NumOwned() int { return d.local.Rows() * d.local.Cols() }

// GlobalSize returns the total number of points in the grid's global box.
func (d *Descriptor) GlobalSize() int { return d.global.Rows() * d.global.Cols() }

// Contains reports whether the given global point index is owned here:
// O(1) arithmetic, deriving the point's (i, j) from gidx the same way
// LocalOffset does and delegating to Box.Contains, rather than a map
// lookup against a materialized point set.
func (d *Descriptor) Contains(gidx int) bool {
	gcols := d.global.Cols()
	i, j := gidx/gcols, gidx%gcols
	return d.local.Contains(i, j)
}

// OwnedPoints returns the owned global point indices in ascending order.
// Global index is monotonic in (i, j) row-major order, so iterating the
// local box directly in that order already yields them sorted.
func (d *Descriptor) OwnedPoints() []int {
	gcols := d.global.Cols()
	pts := make([]int, 0, d.NumOwned())
	for i := d.local.IS; i < d.local.IE; i++ {
		base := i * gcols
		for j := d.local.JS; j < d.local.JE; j++ {
			pts = append(pts, base+j)
		}
	}
	return pts
}

// LocalOffset returns the position of global index gidx within this
// process's local slab, in row-major order over the local box — the
// offset used by TransferEngine to place a put/get value in its buffer.
func (d *Descriptor) LocalOffset(gidx int) (int, bool) {
	if !d.Contains(gidx) {
		return 0, false
	}
	gcols := d.global.Cols()
	i := gidx / gcols
	j := gidx % gcols
	li := i - d.local.IS
	lj := j - d.local.JS
	return li*d.local.Cols() + lj, true
}
