package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/tango-coupler/tango/pkg/couplerlog"
)

// Relt is the production CollectiveTransport: every rank owns a reliable
// multicast group addressed by its own name, and a point-to-point message
// is simply a "broadcast" to the single destination rank's group — the
// same trick the teacher's ReliableTransport uses for Unicast.
type Relt struct {
	log  couplerlog.Logger
	rank int
	addr []string // addr[r] is rank r's relt group address

	relt *relt.Relt
	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	inboxes map[int]map[Tag]chan []byte // inboxes[from][tag]
}

type envelope struct {
	From int
	Tag  Tag
	Data []byte
}

// NewRelt builds the production transport for this rank, given the
// ordered list of every rank's relt group address (addr[rank] is this
// process's own address).
func NewRelt(rank int, addr []string, log couplerlog.Logger) (*Relt, error) {
	if rank < 0 || rank >= len(addr) {
		return nil, fmt.Errorf("relt transport: rank %d out of range [0,%d)", rank, len(addr))
	}
	conf := relt.DefaultReltConfiguration()
	conf.Name = addr[rank]
	conf.Exchange = relt.GroupAddress(addr[rank])
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, fmt.Errorf("relt transport: starting rank %d: %w", rank, err)
	}

	ctx, stop := context.WithCancel(context.Background())
	t := &Relt{
		log:     log,
		rank:    rank,
		addr:    addr,
		relt:    r,
		ctx:     ctx,
		stop:    stop,
		inboxes: make(map[int]map[Tag]chan []byte),
	}
	go t.poll()
	return t, nil
}

func (t *Relt) Rank() int { return t.rank }
func (t *Relt) Size() int { return len(t.addr) }

func (t *Relt) inbox(from int, tag Tag) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTag, ok := t.inboxes[from]
	if !ok {
		byTag = make(map[Tag]chan []byte)
		t.inboxes[from] = byTag
	}
	ch, ok := byTag[tag]
	if !ok {
		ch = make(chan []byte, 1)
		byTag[tag] = ch
	}
	return ch
}

func (t *Relt) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if to < 0 || to >= len(t.addr) {
		return fmt.Errorf("relt transport: rank %d out of range [0,%d)", to, len(t.addr))
	}
	env := envelope{From: t.rank, Tag: tag, Data: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relt transport: marshalling message to rank %d: %w", to, err)
	}
	return t.relt.Broadcast(ctx, relt.Send{
		Address: relt.GroupAddress(t.addr[to]),
		Data:    data,
	})
}

func (t *Relt) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	select {
	case payload := <-t.inbox(from, tag):
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Relt) Gather(ctx context.Context, root, epoch int, payload []byte) ([][]byte, error) {
	return gatherOver(ctx, t, root, epoch, payload)
}

func (t *Relt) Broadcast(ctx context.Context, root, epoch int, payload []byte) ([]byte, error) {
	return broadcastOver(ctx, t, root, epoch, payload)
}

func (t *Relt) Barrier(ctx context.Context, group []int, epoch int) error {
	return barrierOver(ctx, t, group, epoch)
}

func (t *Relt) Close() error {
	t.stop()
	return t.relt.Close()
}

// poll keeps draining relt's consumer channel and demuxing every arriving
// message into its (from, tag) inbox, mirroring the teacher's
// ReliableTransport.poll/consume.
func (t *Relt) poll() {
	listener, err := t.relt.Consume()
	if err != nil {
		t.log.Errorf("relt transport: rank %d failed starting consumer: %v", t.rank, err)
		return
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			t.consume(recv)
		}
	}
}

func (t *Relt) consume(recv relt.Recv) {
	if recv.Error != nil {
		t.log.Errorf("relt transport: rank %d receive error: %v", t.rank, recv.Error)
		return
	}
	var env envelope
	if err := json.Unmarshal(recv.Data, &env); err != nil {
		t.log.Errorf("relt transport: rank %d failed unmarshalling message: %v", t.rank, err)
		return
	}
	select {
	case t.inbox(env.From, env.Tag) <- env.Data:
	case <-t.ctx.Done():
	}
}
