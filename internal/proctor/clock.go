package proctor

import (
	"sync"
	"time"
)

// Clock abstracts the timers an attempt depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once after d. The returned func cancels it.
	AfterFunc(d time.Duration, f func()) (stop func())
	// Every runs f every d until the returned func is called.
	Every(d time.Duration, f func()) (stop func())
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

func (SystemClock) Every(d time.Duration, f func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				f()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
