package sync

import "context"

type Token struct {
	t chan struct{}
}

// A struct that facilitates one-to-many broadcast notifications. All listeners are guaranteed
// to be notified of every change, and once you've registered, you won't miss any changes.
//
// St is a buffered channel that acts as a mutex for the notifier's state. The state is a map
// from arbitrary unique values (in this case a channel) to queues. A slow listener never
// blocks the notifier; memory grows instead.
type QueuedNotifier[T any] struct {
	st chan map[chan struct{}]*Queue[T]
}

func NewQueuedNotifier[T any]() *QueuedNotifier[T] {
	state := make(chan map[chan struct{}]*Queue[T], 1)
	state <- make(map[chan struct{}]*Queue[T])

	return &QueuedNotifier[T]{
		st: state,
	}
}

func (n *QueuedNotifier[T]) Register() Token {
	q := NewQueue[T]()
	t := make(chan struct{})

	st := <-n.st
	st[t] = q
	n.st <- st

	return Token{t}
}

func (n *QueuedNotifier[T]) Unregister(t Token) {
	st := <-n.st
	delete(st, t.t)
	n.st <- st
}

func (n *QueuedNotifier[T]) NotifyChange(v T) {
	st := <-n.st
	for _, q := range st {
		q.Put(v)
	}
	n.st <- st
}

// AwaitChange returns false if t isn't registered or ctx is done.
func (n *QueuedNotifier[T]) AwaitChange(ctx context.Context, t Token) (T, bool) {
	st := <-n.st
	q := st[t.t]
	n.st <- st

	if q == nil {
		var zero T
		return zero, false
	}

	return q.Get(ctx)
}
