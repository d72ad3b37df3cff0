package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	assert.Equal(t, 0, q.Len())

	for i := 0; i < 5; i++ {
		q.Put(i)
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, ok := q.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueGetCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, ok := q.Get(ctx)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue[int]()
	done := make(chan int)

	go func() {
		v, _ := q.Get(context.Background())
		done <- v
	}()

	q.Put(42)

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Get did not return")
	}
}

func TestNotifier(t *testing.T) {
	n := NewNotifier("a")

	v, seq := n.LastChange()
	assert.Equal(t, "a", v)
	assert.Equal(t, int64(0), seq)

	n.NotifyChange("b")

	v, seq = n.AwaitChange(context.Background(), 0)
	assert.Equal(t, "b", v)
	assert.Equal(t, int64(1), seq)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	v, seq = n.AwaitChange(ctx, 1)
	assert.Equal(t, "b", v)
	assert.Equal(t, int64(1), seq)
}

func TestNotifierWakesWaiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := NewNotifier(0)
	got := make(chan int)

	go func() {
		v, _ := n.AwaitChange(context.Background(), 0)
		got <- v
	}()

	time.Sleep(5 * time.Millisecond)
	n.NotifyChange(7)

	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("AwaitChange did not return")
	}
}

func TestQueuedNotifierDeliversEverything(t *testing.T) {
	n := NewQueuedNotifier[int]()
	t1 := n.Register()
	t2 := n.Register()

	n.NotifyChange(1)
	n.NotifyChange(2)

	ctx := context.Background()
	for _, tok := range []Token{t1, t2} {
		v, ok := n.AwaitChange(ctx, tok)
		require.True(t, ok)
		assert.Equal(t, 1, v)

		v, ok = n.AwaitChange(ctx, tok)
		require.True(t, ok)
		assert.Equal(t, 2, v)
	}

	n.Unregister(t1)
	_, ok := n.AwaitChange(ctx, t1)
	assert.False(t, ok)
}
