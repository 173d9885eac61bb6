// Package proctortest provides deterministic clocks and random sources for
// tests of proctored attempts.
package proctortest

import (
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Callbacks run on the caller's
// goroutine, in due-time order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id    int
	at    time.Time
	every time.Duration
	f     func()
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now, timers: make(map[int]*fakeTimer)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) func() {
	return c.add(d, 0, f)
}

func (c *FakeClock) Every(d time.Duration, f func()) func() {
	return c.add(d, d, f)
}

func (c *FakeClock) add(d, every time.Duration, f func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	c.timers[id] = &fakeTimer{id: id, at: c.now.Add(d), every: every, f: f}
	return func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextDue(target)
		if next == nil {
			break
		}
		c.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			delete(c.timers, next.id)
		}
		f := next.f
		c.mu.Unlock()
		f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
			next = t
		}
	}
	return next
}

// FixedRand always returns the same value, capped to n-1.
type FixedRand int

func (r FixedRand) IntN(n int) int {
	if int(r) >= n {
		return n - 1
	}
	return int(r)
}
