package transfer

import (
	"hash/fnv"

	"github.com/tango-coupler/tango/pkg/transport"
)

// fieldTag derives the deterministic field id used to tag messages for
// one field flowing between two grids: an FNV-1a hash of the field name
// and the two grid names in canonical (sorted) order, so that the sending
// process (which sees gridA=self, gridB=peer) and the receiving process
// (which sees them swapped) compute the identical tag without needing to
// agree on anything beyond the field name and the two grids' own names.
// Masked to stay out of transport's reserved control-tag space.
// FieldTag exports fieldTag for callers outside this package that need to
// check field-tag collisions ahead of any transfer, such as Coupler.Init.
func FieldTag(field, gridA, gridB string) uint64 {
	return fieldTag(field, gridA, gridB)
}

func fieldTag(field, gridA, gridB string) uint64 {
	if gridA > gridB {
		gridA, gridB = gridB, gridA
	}
	h := fnv.New64a()
	h.Write([]byte(field))
	h.Write([]byte{'@'})
	h.Write([]byte(gridA))
	h.Write([]byte{'-'})
	h.Write([]byte(gridB))
	return h.Sum64() & transport.FieldMask
}
