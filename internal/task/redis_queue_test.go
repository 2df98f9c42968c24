package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQueuePublishConsume(t *testing.T) {
	mr := miniredis.RunT(t)

	queue, err := NewRedisQueue(RedisQueueConfig{Address: mr.Addr(), BlockWait: 50 * time.Millisecond})
	require.NoError(t, err)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Publish(ctx, id))
	}
	length, err := mr.List(DefaultRedisQueue)
	require.NoError(t, err)
	assert.Len(t, length, 3)

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 1, func(_ context.Context, taskID string) error {
			mu.Lock()
			seen = append(seen, taskID)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRedisQueueRequeuesFailedTask(t *testing.T) {
	mr := miniredis.RunT(t)

	queue, err := NewRedisQueue(RedisQueueConfig{Address: mr.Addr(), Queue: "claw:test", BlockWait: 50 * time.Millisecond})
	require.NoError(t, err)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, queue.Publish(ctx, "flaky"))

	var mu sync.Mutex
	attempts := 0
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, _ string) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewRedisQueueRequiresAddress(t *testing.T) {
	_, err := NewRedisQueue(RedisQueueConfig{})
	require.Error(t, err)
}
