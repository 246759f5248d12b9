package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientDeliversEachIDOnce(t *testing.T) {
	q := NewMemoryClient(16)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	want := []string{"a", "b", "c", "d", "e"}
	wg.Add(len(want))
	for i := 0; i < 3; i++ {
		msgs, err := q.Consume(ctx)
		require.NoError(t, err)
		go func() {
			for id := range msgs {
				mu.Lock()
				got = append(got, id)
				mu.Unlock()
				wg.Done()
			}
		}()
	}

	for _, id := range want {
		require.NoError(t, q.Publish(ctx, id))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestMemoryClientKeepsMessagesPublishedBeforeConsume(t *testing.T) {
	q := NewMemoryClient(4)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "early"))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case id := <-msgs:
		assert.Equal(t, "early", id)
	case <-time.After(2 * time.Second):
		t.Fatal("message published before Consume was lost")
	}
}

func TestMemoryClientCloseEndsStream(t *testing.T) {
	q := NewMemoryClient(1)
	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Close())

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}
