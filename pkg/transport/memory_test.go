package transport_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tango-coupler/tango/pkg/transport"
)

func TestMemory_Gather(t *testing.T) {
	cluster := transport.NewMemoryCluster(4)
	var wg sync.WaitGroup
	results := make([][][]byte, 4)
	for r, tr := range cluster {
		wg.Add(1)
		go func(r int, tr *transport.Memory) {
			defer wg.Done()
			payload := []byte{byte(r)}
			gathered, err := tr.Gather(context.Background(), 0, 0, payload)
			require.NoError(t, err)
			results[r] = gathered
		}(r, tr)
	}
	wg.Wait()

	require.Len(t, results[0], 4)
	for r := 0; r < 4; r++ {
		require.Equal(t, []byte{byte(r)}, results[0][r])
	}
	for r := 1; r < 4; r++ {
		require.Nil(t, results[r])
	}
}

func TestMemory_Barrier(t *testing.T) {
	cluster := transport.NewMemoryCluster(3)
	var wg sync.WaitGroup
	for _, tr := range cluster {
		wg.Add(1)
		go func(tr *transport.Memory) {
			defer wg.Done()
			require.NoError(t, tr.Barrier(context.Background(), nil, 0))
		}(tr)
	}
	wg.Wait()
}

func TestMemory_SendRecv(t *testing.T) {
	cluster := transport.NewMemoryCluster(2)
	tag := transport.Tag{FieldID: 7, Timestep: 1}
	done := make(chan []byte, 1)
	go func() {
		p, err := cluster[1].Recv(context.Background(), 0, tag)
		require.NoError(t, err)
		done <- p
	}()
	require.NoError(t, cluster[0].Send(context.Background(), 1, tag, []byte("hello")))
	require.Equal(t, []byte("hello"), <-done)
}
