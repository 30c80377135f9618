// Package transport implements CollectiveTransport: the thin abstraction
// over the message-passing substrate that PeerDirectory and TransferEngine
// build on — rank identity, rooted gather, broadcast, tagged point-to-point
// send/recv, and barrier.
package transport

import (
	"context"
)

// Tag identifies one logical message stream between two ranks within a
// transfer window, per the specification's (field_id, timestep) tagging
// rule. Reserved tags (gather/broadcast/barrier control messages) use
// FieldID values outside the field-hash space; see FieldMask.
type Tag struct {
	FieldID  uint64
	Timestep int
}

// CollectiveTransport is the substrate PeerDirectory's description
// exchange and TransferEngine's per-window exchange both run on.
//
// Gather, Broadcast and Barrier all take an explicit epoch, supplied by
// the caller (0 for the one-shot description exchange at init, the
// transfer timestep for a window's terminal barrier). Every participating
// rank runs the identical call sequence under SPMD, so the epoch — not an
// internally-generated sequence number — is what lets independent ranks
// agree on which logical collective call a given message belongs to
// without an extra round of coordination.
type CollectiveTransport interface {
	// Rank returns this process's 0-based rank.
	Rank() int

	// Size returns the total number of participating processes.
	Size() int

	// Gather sends payload to root and, only at root, returns every
	// rank's payload ordered by rank (including root's own). Non-root
	// callers receive a nil slice.
	Gather(ctx context.Context, root, epoch int, payload []byte) ([][]byte, error)

	// Broadcast distributes root's payload to every rank, including
	// root itself, and returns it.
	Broadcast(ctx context.Context, root, epoch int, payload []byte) ([]byte, error)

	// Send posts a point-to-point message to rank `to`, tagged so the
	// receiver can match it against the right Recv call.
	Send(ctx context.Context, to int, tag Tag, payload []byte) error

	// Recv blocks until a message tagged `tag` has arrived from rank
	// `from`, or ctx is done.
	Recv(ctx context.Context, from int, tag Tag) ([]byte, error)

	// Barrier blocks every rank in group until all of them have called
	// Barrier with the same group and epoch; a nil group means every
	// rank.
	Barrier(ctx context.Context, group []int, epoch int) error

	// Close releases the transport's resources.
	Close() error
}

// The top byte of the FieldID space is reserved for control traffic
// (gather/broadcast/barrier); pkg/transfer masks its FNV-1a field-name
// hashes with FieldMask so a real field tag can never land here.
const (
	reservedGather    = ^uint64(0)
	reservedBroadcast = ^uint64(0) - 1
	reservedBarrierG  = ^uint64(0) - 2
	reservedBarrierB  = ^uint64(0) - 3

	// FieldMask clears the reserved top byte; pkg/transfer applies this
	// to every hashed field tag.
	FieldMask = ^uint64(0) >> 8
)

func gatherTag(epoch int) Tag        { return Tag{FieldID: reservedGather, Timestep: epoch} }
func broadcastTag(epoch int) Tag     { return Tag{FieldID: reservedBroadcast, Timestep: epoch} }
func barrierGatherTag(epoch int) Tag { return Tag{FieldID: reservedBarrierG, Timestep: epoch} }
func barrierBcastTag(epoch int) Tag  { return Tag{FieldID: reservedBarrierB, Timestep: epoch} }
