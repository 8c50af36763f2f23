package clock

import (
	"sync"
	"time"
)

// Clock is the time source for everything that stores or compares timestamps.
// Times are UTC and truncated to the microsecond so they survive a database round trip.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func New() Clock {
	return &realClock{}
}

func (c *realClock) Now() time.Time {
	return normalize(time.Now())
}

func (c *realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Fake is a manually advanced clock. After fires immediately and advances the clock by d,
// so loops that pace themselves with After run without real sleeping.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: normalize(now)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = normalize(now)
}

func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- f.Advance(d)
	return c
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
