// Package sched provides the timer service the OSPF engine runs on. All
// callbacks delivered by a Scheduler run one at a time, so code driven by a
// single Scheduler needs no locking of its own.
package sched

import (
	"time"
)

type Timer struct {
	name string
	fire func()
}

func NewTimer(name string, fire func()) *Timer {
	return &Timer{name: name, fire: fire}
}

func (t *Timer) String() string {
	return t.name
}

type Scheduler interface {
	// Arm (re)starts t so that it fires d from now. Arming an armed timer
	// replaces the previous deadline.
	Arm(t *Timer, d time.Duration)
	Cancel(t *Timer)
	IsArmed(t *Timer) bool

	// Post runs f once, d from now, on the scheduler's goroutine.
	Post(d time.Duration, f func())

	// Now is the time elapsed since the scheduler was created.
	Now() time.Duration
}
