package experiment

import (
	"math"
	"sync"
	"time"
)

// MinPollInterval is the shortest re-poll delay handed to clients waiting
// on a timed stage.
const MinPollInterval = 200 * time.Millisecond

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// PollInterval clamps a configured interval to MinPollInterval.
func PollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

func elapsedSeconds(start, now time.Time) float64 {
	return now.Sub(start).Seconds()
}

// IsExpired reports whether limitSeconds have passed since start. A limit of
// zero or less never expires.
func IsExpired(start time.Time, limitSeconds int, now time.Time) bool {
	if limitSeconds <= 0 {
		return false
	}
	return elapsedSeconds(start, now) >= float64(limitSeconds)
}

// RemainingSeconds is the whole number of seconds left, never negative.
func RemainingSeconds(start time.Time, limitSeconds int, now time.Time) int {
	left := float64(limitSeconds) - elapsedSeconds(start, now)
	if left <= 0 {
		return 0
	}
	return int(math.Floor(left))
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
