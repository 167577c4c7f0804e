package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializerFIFO(t *testing.T) {
	s := NewSerializer()

	first := s.Acquire()
	second := s.Acquire()
	third := s.Acquire()

	require.NoError(t, first.Wait(context.Background()))

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, second.Wait(context.Background()))
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		second.Release()
	}()
	go func() {
		defer wg.Done()
		require.NoError(t, third.Wait(context.Background()))
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		third.Release()
	}()

	// neither waiter may proceed until the first releases
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	first.Release()
	wg.Wait()
	assert.Equal(t, []int{2, 3}, order)
	assert.Equal(t, 0, s.Len())
}

func TestSerializerReleaseIdempotent(t *testing.T) {
	s := NewSerializer()

	first := s.Acquire()
	second := s.Acquire()

	require.NoError(t, first.Wait(context.Background()))
	first.Release()
	first.Release()
	first.Release()

	require.NoError(t, second.Wait(context.Background()))
	second.Release()
	assert.Equal(t, 0, s.Len())
}

func TestSerializerReleaseBeforeTurn(t *testing.T) {
	s := NewSerializer()

	first := s.Acquire()
	second := s.Acquire()
	third := s.Acquire()

	// second abandons its place before its turn arrives
	second.Release()
	first.Release()

	require.NoError(t, third.Wait(context.Background()))
	third.Release()
	assert.Equal(t, 0, s.Len())
}

func TestSerializerWaitContextCancel(t *testing.T) {
	s := NewSerializer()

	first := s.Acquire()
	require.NoError(t, first.Wait(context.Background()))

	second := s.Acquire()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := second.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// the cancelled ticket must not block the line
	third := s.Acquire()
	first.Release()
	require.NoError(t, third.Wait(context.Background()))
	third.Release()
}

func TestSerializerCancelAll(t *testing.T) {
	s := NewSerializer()

	first := s.Acquire()
	require.NoError(t, first.Wait(context.Background()))
	second := s.Acquire()
	third := s.Acquire()

	done := make(chan error, 2)
	go func() { done <- second.Wait(context.Background()) }()
	go func() { done <- third.Wait(context.Background()) }()

	s.CancelAll()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrSerializerCancelled)
		case <-time.After(time.Second):
			t.Fatal("waiter not woken by CancelAll")
		}
	}
	assert.Equal(t, 0, s.Len())

	// the serializer stays usable afterwards
	next := s.Acquire()
	require.NoError(t, next.Wait(context.Background()))
	next.Release()
}
