package sched

import (
	"container/heap"
	"time"
)

type simEvent struct {
	at        time.Duration
	seq       uint64
	fire      func()
	cancelled bool
}

type eventHeap []*simEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*simEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Sim is a discrete-event Scheduler with a virtual clock. Nothing happens
// until the caller drives it with Step, RunFor or RunUntil. Events due at
// the same instant run in the order they were scheduled.
type Sim struct {
	now    time.Duration
	seq    uint64
	events eventHeap
	armed  map[*Timer]*simEvent
}

func NewSim() *Sim {
	return &Sim{
		armed: make(map[*Timer]*simEvent),
	}
}

func (s *Sim) push(d time.Duration, f func()) *simEvent {
	if d < 0 {
		d = 0
	}

	s.seq++
	e := &simEvent{at: s.now + d, seq: s.seq, fire: f}
	heap.Push(&s.events, e)

	return e
}

func (s *Sim) Arm(t *Timer, d time.Duration) {
	s.Cancel(t)

	s.armed[t] = s.push(d, func() {
		delete(s.armed, t)
		t.fire()
	})
}

func (s *Sim) Cancel(t *Timer) {
	if e, ok := s.armed[t]; ok {
		e.cancelled = true
		delete(s.armed, t)
	}
}

func (s *Sim) IsArmed(t *Timer) bool {
	_, ok := s.armed[t]
	return ok
}

func (s *Sim) Post(d time.Duration, f func()) {
	s.push(d, f)
}

func (s *Sim) Now() time.Duration {
	return s.now
}

// Pending reports the number of events that will still fire.
func (s *Sim) Pending() int {
	n := 0
	for _, e := range s.events {
		if !e.cancelled {
			n++
		}
	}
	return n
}

func (s *Sim) next() *simEvent {
	for len(s.events) > 0 {
		e := s.events[0]
		if !e.cancelled {
			return e
		}
		heap.Pop(&s.events)
	}
	return nil
}

// Step runs the next event and advances the clock to its deadline. It
// returns false if nothing is scheduled.
func (s *Sim) Step() bool {
	e := s.next()
	if e == nil {
		return false
	}

	heap.Pop(&s.events)
	s.now = e.at
	e.fire()

	return true
}

// RunFor runs every event due within d and leaves the clock at now+d.
func (s *Sim) RunFor(d time.Duration) {
	end := s.now + d

	for {
		e := s.next()
		if e == nil || e.at > end {
			break
		}
		s.Step()
	}

	s.now = end
}

// RunUntil steps until done returns true or the clock would pass limit
// from now. It reports whether done returned true.
func (s *Sim) RunUntil(done func() bool, limit time.Duration) bool {
	end := s.now + limit

	for !done() {
		e := s.next()
		if e == nil || e.at > end {
			s.now = end
			return done()
		}
		s.Step()
	}

	return true
}
