package sched

import (
	"context"
	gosync "sync"
	"time"

	"github.com/davidbalbert/ospfsync/sync"
)

// Loop is a real-time Scheduler. Timers are backed by time.AfterFunc, but
// expiry only enqueues the callback; Run executes callbacks one at a time
// in arrival order.
type Loop struct {
	q     *sync.Queue[func()]
	start time.Time

	mu    gosync.Mutex
	armed map[*Timer]*time.Timer
}

func NewLoop() *Loop {
	return &Loop{
		q:     sync.NewQueue[func()](),
		start: time.Now(),
		armed: make(map[*Timer]*time.Timer),
	}
}

func (l *Loop) Arm(t *Timer, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.armed[t]; ok {
		old.Stop()
	}

	var tt *time.Timer
	tt = time.AfterFunc(d, func() {
		l.q.Put(func() {
			l.mu.Lock()
			current := l.armed[t] == tt
			if current {
				delete(l.armed, t)
			}
			l.mu.Unlock()

			// A timer that was cancelled or re-armed after this expiry was
			// queued must not fire.
			if current {
				t.fire()
			}
		})
	})
	l.armed[t] = tt
}

func (l *Loop) Cancel(t *Timer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tt, ok := l.armed[t]; ok {
		tt.Stop()
		delete(l.armed, t)
	}
}

func (l *Loop) IsArmed(t *Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.armed[t]
	return ok
}

func (l *Loop) Post(d time.Duration, f func()) {
	if d <= 0 {
		l.q.Put(f)
		return
	}

	time.AfterFunc(d, func() {
		l.q.Put(f)
	})
}

func (l *Loop) Now() time.Duration {
	return time.Since(l.start)
}

// Run executes callbacks until ctx is done. All armed timers are stopped
// on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopAll()

	for {
		f, ok := l.q.Get(ctx)
		if !ok {
			return nil
		}

		f()
	}
}

func (l *Loop) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for t, tt := range l.armed {
		tt.Stop()
		delete(l.armed, t)
	}
}
