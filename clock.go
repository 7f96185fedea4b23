// clock.go
package main

import (
	"context"
	"sync"
	"time"
)

// Clock is an interface to abstract time-related functions.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock implements Clock using the actual time.
type RealClock struct{}

// Now returns the current local time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep waits on a real timer.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockClock implements Clock for testing purposes.
// Sleepers wake only when Advance moves the clock past their deadline.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	sleepers    []*sleeper
}

type sleeper struct {
	until time.Time
	done  chan struct{}
}

// Now returns the mocked current time.
func (mc *MockClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.currentTime
}

// Sleep parks the caller until the mocked time reaches now+d.
func (mc *MockClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	mc.mu.Lock()
	s := &sleeper{until: mc.currentTime.Add(d), done: make(chan struct{})}
	mc.sleepers = append(mc.sleepers, s)
	mc.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		mc.mu.Lock()
		for i, other := range mc.sleepers {
			if other == s {
				mc.sleepers = append(mc.sleepers[:i], mc.sleepers[i+1:]...)
				break
			}
		}
		mc.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves the current time forward by the specified duration
// and wakes every sleeper whose deadline has passed.
func (mc *MockClock) Advance(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.currentTime = mc.currentTime.Add(d)
	remaining := mc.sleepers[:0]
	for _, s := range mc.sleepers {
		if mc.currentTime.Before(s.until) {
			remaining = append(remaining, s)
			continue
		}
		close(s.done)
	}
	mc.sleepers = remaining
}

// Sleepers reports how many goroutines are parked in Sleep.
func (mc *MockClock) Sleepers() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.sleepers)
}
