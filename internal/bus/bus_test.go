package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	b := New(nil, nil)
	var mu sync.Mutex
	var order []int

	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	}, SubscribeOptions{Priority: 1})
	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		mu.Lock()
		order = append(order, 10)
		mu.Unlock()
		return nil
	}, SubscribeOptions{Priority: 10})

	b.Publish(context.Background(), "evt", nil, PublishOptions{Async: false})

	require.Equal(t, []int{10, 1}, order)
}

func TestHandlerFailureIsolated(t *testing.T) {
	b := New(nil, nil)
	var secondRan bool

	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		panic("boom")
	}, SubscribeOptions{Priority: 2})
	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		secondRan = true
		return nil
	}, SubscribeOptions{Priority: 1})

	b.Publish(context.Background(), "evt", nil, PublishOptions{Async: false})

	assert.True(t, secondRan)
	assert.Equal(t, uint64(1), b.GetMetrics().Errors)
}

func TestOnceUnsubscribes(t *testing.T) {
	b := New(nil, nil)
	count := 0
	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		count++
		return nil
	}, SubscribeOptions{Once: true})

	b.Publish(context.Background(), "evt", nil, PublishOptions{})
	b.Publish(context.Background(), "evt", nil, PublishOptions{})

	assert.Equal(t, 1, count)
}

func TestHistoryRingBuffer(t *testing.T) {
	b := New(nil, nil)
	b.histCap = 3
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), "evt", i, PublishOptions{})
	}
	hist := b.GetHistory("evt", 0)
	require.Len(t, hist, 3)
	assert.Equal(t, 4, hist[0].Data)
}

func TestWaitForTimesOut(t *testing.T) {
	b := New(nil, nil)
	_, ok := b.WaitFor(context.Background(), "never", 20*time.Millisecond, nil)
	assert.False(t, ok)
}

func TestAsyncHandlerTimeoutIsolated(t *testing.T) {
	b := New(nil, nil)
	b.Subscribe("evt", func(ctx context.Context, data interface{}) error {
		<-ctx.Done()
		return ctx.Err()
	}, SubscribeOptions{})

	b.Publish(context.Background(), "evt", nil, PublishOptions{Async: true, TimeoutMs: 10})
	b.Close(500 * time.Millisecond)

	assert.Equal(t, uint64(1), b.GetMetrics().Errors)
}
