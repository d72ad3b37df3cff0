package sync

import "context"

// Taken from the slides for "Rethinking Classical Concurrency Patterns" by Bryan C. Mills.

type state[T any] struct {
	seq     int64
	value   T
	changed chan struct{} // closed upon notify
}

// A struct that facilitates one-to-many broadcast notifications. All listeners are guaranteed
// to receive a notification, but if you spend too long between calls to AwaitChange(), you
// can miss intermediate values.
//
// Calling AwaitChange() with an out of date sequence number guarantees that you'll be notified
// immediately with the latest value, but if you've missed two notifications you'll only see
// the most recent one.
type Notifier[T any] struct {
	st chan state[T]
}

func NewNotifier[T any](initial T) *Notifier[T] {
	st := make(chan state[T], 1)
	st <- state[T]{
		seq:     0,
		value:   initial,
		changed: make(chan struct{}),
	}
	return &Notifier[T]{st: st}
}

func (n *Notifier[T]) NotifyChange(v T) {
	st := <-n.st
	close(st.changed)
	n.st <- state[T]{
		seq:     st.seq + 1,
		value:   v,
		changed: make(chan struct{}),
	}
}

func (n *Notifier[T]) LastChange() (T, int64) {
	st := <-n.st
	n.st <- st

	return st.value, st.seq
}

// If you call AwaitChange() with a wrong seq, it'll immediately return
// the current value and seq. If ctx is done first, the returned seq is
// the one passed in.
func (n *Notifier[T]) AwaitChange(ctx context.Context, seq int64) (T, int64) {
	st := <-n.st
	n.st <- st

	if st.seq != seq {
		return st.value, st.seq
	}

	select {
	case <-ctx.Done():
		return st.value, seq
	case <-st.changed:
		return n.LastChange()
	}
}
