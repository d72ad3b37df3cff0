package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSimFiresInOrder(t *testing.T) {
	s := NewSim()
	var got []string

	s.Post(3*time.Second, func() { got = append(got, "c") })
	s.Post(time.Second, func() { got = append(got, "a") })
	s.Post(time.Second, func() { got = append(got, "b") })

	s.RunFor(10 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 10*time.Second, s.Now())
}

func TestSimArmCancel(t *testing.T) {
	s := NewSim()
	fired := 0
	tm := NewTimer("test", func() { fired++ })

	s.Arm(tm, 5*time.Second)
	assert.True(t, s.IsArmed(tm))

	s.RunFor(4 * time.Second)
	assert.Equal(t, 0, fired)

	s.Cancel(tm)
	assert.False(t, s.IsArmed(tm))
	assert.Equal(t, 0, s.Pending())

	s.RunFor(10 * time.Second)
	assert.Equal(t, 0, fired)
}

func TestSimRearmReplacesDeadline(t *testing.T) {
	s := NewSim()
	var at []time.Duration
	var tm *Timer
	tm = NewTimer("test", func() { at = append(at, s.Now()) })

	s.Arm(tm, 5*time.Second)
	s.RunFor(3 * time.Second)
	s.Arm(tm, 5*time.Second)
	s.RunFor(20 * time.Second)

	assert.Equal(t, []time.Duration{8 * time.Second}, at)
	assert.False(t, s.IsArmed(tm))
}

func TestSimTimerCanRearmItself(t *testing.T) {
	s := NewSim()
	n := 0
	var tm *Timer
	tm = NewTimer("tick", func() {
		n++
		s.Arm(tm, time.Second)
	})

	s.Arm(tm, time.Second)
	s.RunFor(5 * time.Second)

	assert.Equal(t, 5, n)
	assert.True(t, s.IsArmed(tm))
}

func TestSimRunUntil(t *testing.T) {
	s := NewSim()
	n := 0
	for i := 1; i <= 10; i++ {
		s.Post(time.Duration(i)*time.Second, func() { n++ })
	}

	ok := s.RunUntil(func() bool { return n == 3 }, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, s.Now())

	ok = s.RunUntil(func() bool { return n == 100 }, 2*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Second, s.Now())
	assert.Equal(t, 5, n)
}

func TestLoopRunsTimersAndPosts(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())

	fired := make(chan string, 4)
	tm := NewTimer("t", func() { fired <- "timer" })
	cancelled := NewTimer("c", func() { fired <- "cancelled" })

	l.Arm(tm, 5*time.Millisecond)
	l.Arm(cancelled, 5*time.Millisecond)
	l.Cancel(cancelled)
	l.Post(0, func() { fired <- "post" })

	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	var got []string
	for len(got) < 2 {
		select {
		case s := <-fired:
			got = append(got, s)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for callbacks")
		}
	}

	assert.ElementsMatch(t, []string{"timer", "post"}, got)
	assert.False(t, l.IsArmed(tm))

	cancel()
	require.NoError(t, <-done)
}

func TestLoopStopsTimersOnExit(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop()
	tm := NewTimer("t", func() {})
	l.Arm(tm, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	assert.False(t, l.IsArmed(tm))
}
