// Package transfer implements TransferEngine: the begin/put/get/end state
// machine that packs owned field values against a RoutingPlan, exchanges
// them over CollectiveTransport, and accumulates the results.
package transfer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tango-coupler/tango/pkg/couplererr"
	"github.com/tango-coupler/tango/pkg/couplerlog"
	"github.com/tango-coupler/tango/pkg/grid"
	"github.com/tango-coupler/tango/pkg/metrics"
	"github.com/tango-coupler/tango/pkg/route"
	"github.com/tango-coupler/tango/pkg/transport"
)

type state int

const (
	idle state = iota
	open
)

// fieldSetReserved tags the field-set exchange control message end_transfer
// sends before the real packed data, distinct from both the masked
// real-field tag space and transport's own reserved gather/broadcast/
// barrier tags.
const fieldSetReserved = ^uint64(0) - 4

// fieldSetTag is keyed only by timestep: an Engine allows at most one
// open window at a time, so a given (from, to) rank pair never has two
// concurrent field-set exchanges in flight, and no further
// disambiguation is needed — nor would one be symmetric, since the two
// sides assign grid ids from their own, independently-keyed gridIDs map.
func fieldSetTag(timestep int) transport.Tag {
	return transport.Tag{FieldID: fieldSetReserved, Timestep: timestep}
}

type fieldSetMessage struct {
	Put []string
	Get []string
}

// Engine is TransferEngine. One Engine serves every peer grid this
// process is configured to exchange with; begin_transfer selects which
// peer grid a window targets.
type Engine struct {
	log           couplerlog.Logger
	self          *grid.Descriptor
	tr            transport.CollectiveTransport
	plan          *route.Plan
	gridIDs       map[string]int // peer grid name -> grid id, indexes plan.Send/Recv
	deterministic bool

	mu       sync.Mutex
	st       state
	timestep int
	peerGrid string
	puts     map[string][]float64
	gets     map[string][]float64

	scratch map[scratchKey][]float64
}

type scratchKey struct {
	field string
	peer  int
}

// New builds a TransferEngine over a built RoutingPlan. gridIDs maps every
// peer grid name the local configuration names to its grid id, matching
// the keys plan.Send/plan.Recv are indexed by. deterministic enables
// sorting accumulation contributions by (peer_rank, src_gidx) instead of
// arrival order, at the cost of buffering a window's receives before
// summing.
func New(log couplerlog.Logger, self *grid.Descriptor, tr transport.CollectiveTransport, plan *route.Plan, gridIDs map[string]int, deterministic bool) *Engine {
	return &Engine{
		log:           log,
		self:          self,
		tr:            tr,
		plan:          plan,
		gridIDs:       gridIDs,
		deterministic: deterministic,
		st:            idle,
		scratch:       make(map[scratchKey][]float64),
	}
}

// BeginTransfer opens a transfer window against peerGrid for the given
// timestep. IDLE -> OPEN.
func (e *Engine) BeginTransfer(timestep int, peerGrid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != idle {
		return couplererr.Protocol(e.self.Name(),
			"begin_transfer(%d, %s) called while a window against %q is already open", timestep, peerGrid, e.peerGrid)
	}
	if _, ok := e.gridIDs[peerGrid]; !ok {
		return couplererr.Protocol(e.self.Name(), "begin_transfer: %q is not a configured peer grid", peerGrid)
	}
	e.st = open
	e.timestep = timestep
	e.peerGrid = peerGrid
	e.puts = make(map[string][]float64)
	e.gets = make(map[string][]float64)
	return nil
}

// Put enqueues an outbound field for the open window. n must equal the
// number of locally owned points.
func (e *Engine) Put(field string, buf []float64, n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != open {
		return couplererr.Protocol(e.self.Name(), "put(%q) called with no open transfer window", field)
	}
	if n != e.self.NumOwned() || len(buf) < n {
		return couplererr.Shape(e.self.Name(), "put(%q): n=%d does not match %d owned points", field, n, e.self.NumOwned())
	}
	cp := make([]float64, n)
	copy(cp, buf[:n])
	e.puts[field] = cp
	return nil
}

// Get enqueues an inbound field for the open window; buf is zeroed and
// will be accumulated into by end_transfer. n must equal the number of
// locally owned points.
func (e *Engine) Get(field string, buf []float64, n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != open {
		return couplererr.Protocol(e.self.Name(), "get(%q) called with no open transfer window", field)
	}
	if n != e.self.NumOwned() || len(buf) < n {
		return couplererr.Shape(e.self.Name(), "get(%q): n=%d does not match %d owned points", field, n, e.self.NumOwned())
	}
	for i := 0; i < n; i++ {
		buf[i] = 0
	}
	e.gets[field] = buf[:n]
	return nil
}

// EndTransfer executes the pending exchange: packs and sends every put,
// posts and accumulates every get, validates the field sets matched, and
// barriers the coupled subset before returning to IDLE.
func (e *Engine) EndTransfer(ctx context.Context) error {
	start := time.Now()

	e.mu.Lock()
	if e.st != open {
		e.mu.Unlock()
		return couplererr.Protocol(e.self.Name(), "end_transfer called with no open transfer window")
	}
	timestep, peerGrid := e.timestep, e.peerGrid
	gridID := e.gridIDs[peerGrid]
	puts, gets := e.puts, e.gets
	sendRoutes := e.plan.Send[gridID]
	recvRoutes := e.plan.Recv[gridID]
	e.mu.Unlock()

	outcome := "ok"
	defer func() {
		metrics.TransfersTotal.WithLabelValues(e.self.Name(), peerGrid, outcome).Inc()
		metrics.TransferDuration.WithLabelValues(e.self.Name(), peerGrid).Observe(time.Since(start).Seconds())
	}()

	peerRanks := unionRanks(sendRoutes, recvRoutes)
	if err := e.validateFieldSets(ctx, timestep, peerRanks, puts, gets); err != nil {
		outcome = outcomeFor(err)
		e.reset()
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(sendRoutes)*len(puts)+len(recvRoutes)*len(gets))

	var contribMu sync.Mutex
	contribs := make(map[string][]contribution, len(gets))

	for field, buf := range puts {
		for _, pr := range sendRoutes {
			field, pr, buf := field, pr, buf
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.sendField(ctx, field, peerGrid, timestep, pr, buf); err != nil {
					errs <- err
				}
			}()
		}
	}
	for field, buf := range gets {
		for _, pr := range recvRoutes {
			field, pr, buf := field, pr, buf
			wg.Add(1)
			go func() {
				defer wg.Done()
				if e.deterministic {
					cs, err := e.recvFieldContribs(ctx, field, peerGrid, timestep, pr)
					if err != nil {
						errs <- err
						return
					}
					contribMu.Lock()
					contribs[field] = append(contribs[field], cs...)
					contribMu.Unlock()
					return
				}
				if err := e.recvField(ctx, field, peerGrid, timestep, pr, buf); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		outcome = outcomeFor(err)
		e.reset()
		return err
	}

	// Deterministic mode: every peer's contributions were buffered
	// instead of summed as they arrived, so the merge order here is
	// fixed by (peer_rank, src_gidx) rather than by which goroutine
	// happened to finish first — the only way to make the result
	// independent of more than one peer's arrival order.
	for field, cs := range contribs {
		mergeContribs(cs, gets[field])
	}

	if err := e.tr.Barrier(ctx, barrierGroup(e.tr.Rank(), peerRanks), timestep); err != nil {
		outcome = "transport_error"
		e.reset()
		return couplererr.Transport(e.self.Name(), err, "terminal barrier for transfer %d against %q", timestep, peerGrid)
	}
	e.reset()
	return nil
}

func outcomeFor(err error) string {
	if e, ok := couplererr.As(err); ok {
		return e.Kind.String()
	}
	return "error"
}

func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st = idle
	e.puts = nil
	e.gets = nil
}

func (e *Engine) validateFieldSets(ctx context.Context, timestep int, peerRanks []int, puts, gets map[string][]float64) error {
	if len(peerRanks) == 0 {
		return nil
	}
	local := fieldSetMessage{Put: sortedKeys(puts), Get: sortedKeys(gets)}
	payload, err := json.Marshal(local)
	if err != nil {
		return couplererr.Protocol(e.self.Name(), "marshalling field-set message: %v", err)
	}
	tag := fieldSetTag(timestep)
	for _, r := range peerRanks {
		if err := e.tr.Send(ctx, r, tag, payload); err != nil {
			return couplererr.Transport(e.self.Name(), err, "sending field-set to peer rank %d", r)
		}
	}

	remotePuts := make(map[string]struct{})
	remoteGets := make(map[string]struct{})
	for _, r := range peerRanks {
		raw, err := e.tr.Recv(ctx, r, tag)
		if err != nil {
			return couplererr.Transport(e.self.Name(), err, "receiving field-set from peer rank %d", r)
		}
		var remote fieldSetMessage
		if err := json.Unmarshal(raw, &remote); err != nil {
			return couplererr.Protocol(e.self.Name(), "decoding field-set from peer rank %d: %v", r, err)
		}
		for _, f := range remote.Put {
			remotePuts[f] = struct{}{}
		}
		for _, f := range remote.Get {
			remoteGets[f] = struct{}{}
		}
	}

	for f := range gets {
		if _, ok := remotePuts[f]; !ok {
			return couplererr.Protocol(e.self.Name(), "expected field %q from peer grid %q but no peer put it this window", f, e.peerGrid)
		}
	}
	for f := range puts {
		if _, ok := remoteGets[f]; !ok {
			return couplererr.Protocol(e.self.Name(), "field %q put to peer grid %q but no peer is getting it this window", f, e.peerGrid)
		}
	}
	return nil
}

func sortedKeys(m map[string][]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// barrierGroup adds self to the set of peer ranks a window exchanged with.
// barrierOver picks its root as the lowest rank in the group, so every
// participant must present the identical set, including itself — the
// peer ranks collected from the routing plan name only the other side.
func barrierGroup(self int, peerRanks []int) []int {
	seen := map[int]struct{}{self: {}}
	for _, r := range peerRanks {
		seen[r] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

func unionRanks(a, b []route.PeerRoute) []int {
	seen := make(map[int]struct{})
	for _, pr := range a {
		seen[pr.Peer] = struct{}{}
	}
	for _, pr := range b {
		seen[pr.Peer] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

func (e *Engine) sendField(ctx context.Context, field, peerGrid string, timestep int, pr route.PeerRoute, local []float64) error {
	key := scratchKey{field: field, peer: pr.Peer}
	e.mu.Lock()
	packed, ok := e.scratch[key]
	if !ok || len(packed) < len(pr.Points) {
		packed = make([]float64, len(pr.Points))
		e.scratch[key] = packed
	}
	e.mu.Unlock()

	for k, gidx := range pr.Points {
		off, ok := e.self.LocalOffset(gidx)
		if !ok {
			return couplererr.Shape(e.self.Name(), "send route references global index %d not owned locally", gidx)
		}
		packed[k] = local[off] * pr.Weights[k]
	}

	payload := packFloats(packed[:len(pr.Points)])
	tag := transport.Tag{FieldID: fieldTag(field, e.self.Name(), peerGrid), Timestep: timestep}
	if err := e.tr.Send(ctx, pr.Peer, tag, payload); err != nil {
		return couplererr.Transport(e.self.Name(), err, "sending field %q to peer rank %d", field, pr.Peer)
	}
	metrics.FieldBytesSent.WithLabelValues(e.self.Name(), peerGrid, field).Add(float64(len(payload)))
	return nil
}

// contribution is one peer's one-point addition to a destination field,
// buffered by recvFieldContribs instead of being summed immediately so
// that deterministic mode can merge every peer's contributions to one
// destination point in a fixed, arrival-order-independent sequence.
type contribution struct {
	peer   int
	srcKey int
	offset int
	value  float64
}

// fetchField receives and decodes one peer's packed field values,
// recording the bytes-received metric; shared by recvField and
// recvFieldContribs.
func (e *Engine) fetchField(ctx context.Context, field, peerGrid string, timestep int, pr route.PeerRoute) ([]float64, error) {
	tag := transport.Tag{FieldID: fieldTag(field, e.self.Name(), peerGrid), Timestep: timestep}
	raw, err := e.tr.Recv(ctx, pr.Peer, tag)
	if err != nil {
		return nil, couplererr.Transport(e.self.Name(), err, "receiving field %q from peer rank %d", field, pr.Peer)
	}
	values, err := unpackFloats(raw)
	if err != nil {
		return nil, couplererr.Protocol(e.self.Name(), "decoding field %q from peer rank %d: %v", field, pr.Peer, err)
	}
	if len(values) != len(pr.Points) {
		return nil, couplererr.Shape(e.self.Name(), "field %q from peer rank %d: got %d values, route expects %d",
			field, pr.Peer, len(values), len(pr.Points))
	}
	metrics.FieldBytesRecv.WithLabelValues(e.self.Name(), peerGrid, field).Add(float64(len(raw)))
	return values, nil
}

func (e *Engine) recvField(ctx context.Context, field, peerGrid string, timestep int, pr route.PeerRoute, dest []float64) error {
	values, err := e.fetchField(ctx, field, peerGrid, timestep, pr)
	if err != nil {
		return err
	}
	for k, gidx := range pr.Points {
		off, ok := e.self.LocalOffset(gidx)
		if !ok {
			return couplererr.Shape(e.self.Name(), "recv route references global index %d not owned locally", gidx)
		}
		e.mu.Lock()
		dest[off] += values[k]
		e.mu.Unlock()
	}
	return nil
}

// mergeContribs sorts cs by (peer_rank, src_gidx) and sums each
// contribution into dest in that order. Sorting before summing, rather
// than summing as each contribution is produced, is what makes the
// result independent of which peer's goroutine happens to finish first —
// without it, a destination point fed by more than one peer rank would
// only be deterministic across repeated runs when exactly one peer
// contributes to it.
func mergeContribs(cs []contribution, dest []float64) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].peer != cs[j].peer {
			return cs[i].peer < cs[j].peer
		}
		return cs[i].srcKey < cs[j].srcKey
	})
	for _, c := range cs {
		dest[c.offset] += c.value
	}
}

// recvFieldContribs is recvField's deterministic-mode counterpart: it
// fetches and decodes exactly the same way, but returns each point as a
// contribution instead of summing it into dest — EndTransfer merges every
// route's contributions to a field, across every peer, in one
// (peer_rank, src_gidx)-ordered pass after every goroutine has finished.
func (e *Engine) recvFieldContribs(ctx context.Context, field, peerGrid string, timestep int, pr route.PeerRoute) ([]contribution, error) {
	values, err := e.fetchField(ctx, field, peerGrid, timestep, pr)
	if err != nil {
		return nil, err
	}
	out := make([]contribution, len(pr.Points))
	for k, gidx := range pr.Points {
		off, ok := e.self.LocalOffset(gidx)
		if !ok {
			return nil, couplererr.Shape(e.self.Name(), "recv route references global index %d not owned locally", gidx)
		}
		out[k] = contribution{peer: pr.Peer, srcKey: pr.SrcKeys[k], offset: off, value: values[k]}
	}
	return out, nil
}

func packFloats(vals []float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func unpackFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("transfer: malformed float block of %d bytes", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}
