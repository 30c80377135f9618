package transport

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process CollectiveTransport backed by goroutines and
// channels: every rank in a simulated cluster shares one hub, with no
// real networking involved. It is the test double used across pkg/peers
// and pkg/transfer's test suites, mirroring the teacher's in-memory
// TestInvoker fixture.
type Memory struct {
	hub  *memoryHub
	rank int
}

type memoryHub struct {
	size int
	mu   sync.Mutex
	// inboxes[to][from][tag] -> buffered channel of payloads
	inboxes []map[int]map[Tag]chan []byte
}

// NewMemoryCluster builds `size` Memory transports sharing one hub, one
// per simulated rank.
func NewMemoryCluster(size int) []*Memory {
	hub := &memoryHub{size: size, inboxes: make([]map[int]map[Tag]chan []byte, size)}
	for i := range hub.inboxes {
		hub.inboxes[i] = make(map[int]map[Tag]chan []byte)
	}
	out := make([]*Memory, size)
	for r := 0; r < size; r++ {
		out[r] = &Memory{hub: hub, rank: r}
	}
	return out
}

func (h *memoryHub) inbox(to, from int, tag Tag) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	byFrom, ok := h.inboxes[to][from]
	if !ok {
		byFrom = make(map[Tag]chan []byte)
		h.inboxes[to][from] = byFrom
	}
	ch, ok := byFrom[tag]
	if !ok {
		ch = make(chan []byte, 1)
		byFrom[tag] = ch
	}
	return ch
}

func (m *Memory) Rank() int { return m.rank }
func (m *Memory) Size() int { return m.hub.size }

func (m *Memory) Send(ctx context.Context, to int, tag Tag, payload []byte) error {
	if to < 0 || to >= m.hub.size {
		return fmt.Errorf("memory transport: rank %d out of range [0,%d)", to, m.hub.size)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case m.hub.inbox(to, m.rank, tag) <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Recv(ctx context.Context, from int, tag Tag) ([]byte, error) {
	select {
	case payload := <-m.hub.inbox(m.rank, from, tag):
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Gather(ctx context.Context, root, epoch int, payload []byte) ([][]byte, error) {
	return gatherOver(ctx, m, root, epoch, payload)
}

func (m *Memory) Broadcast(ctx context.Context, root, epoch int, payload []byte) ([]byte, error) {
	return broadcastOver(ctx, m, root, epoch, payload)
}

func (m *Memory) Barrier(ctx context.Context, group []int, epoch int) error {
	return barrierOver(ctx, m, group, epoch)
}

func (m *Memory) Close() error { return nil }
