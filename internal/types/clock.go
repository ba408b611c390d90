package types

import (
	"sync"
	"time"
)

// DateLayout is calendar date format used in logs, ledger and records.
const DateLayout = "2006-01-02"

// TimestampLayout is ISO-like wall clock format of telemetry records.
const TimestampLayout = "2006-01-02T15:04:05"

// Wall clock before this year means time source was never acquired (RTC reset to epoch).
const minValidYear = 2020

// Clock separates monotonic uptime, used for all interval accounting,
// from wall time, which may jump or be absent.
type Clock interface {
	// Uptime is monotonic duration since process start, immune to wall clock changes.
	Uptime() time.Duration
	// Wall returns current wall time and false if time source is not available.
	Wall() (time.Time, bool)
}

type SystemClock struct {
	start time.Time
	loc   *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return &SystemClock{start: time.Now(), loc: loc}
}

// time.Since uses monotonic clock reading captured in start.
func (c *SystemClock) Uptime() time.Duration { return time.Since(c.start) }

func (c *SystemClock) Wall() (time.Time, bool) {
	now := time.Now().In(c.loc)
	return now, WallValid(now)
}

func WallValid(t time.Time) bool { return t.Year() >= minValidYear }

// ManualClock is controlled by tests and simulators.
type ManualClock struct {
	mu     sync.Mutex
	uptime time.Duration
	wall   time.Time
}

var _ Clock = &ManualClock{}

func NewManualClock(wall time.Time) *ManualClock { return &ManualClock{wall: wall} }

func (c *ManualClock) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uptime
}

func (c *ManualClock) Wall() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall, WallValid(c.wall)
}

// Advance moves both uptime and wall time forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.uptime += d
	c.wall = c.wall.Add(d)
	c.mu.Unlock()
}

// SetWall changes only wall time, like an NTP step or manual RTC set.
func (c *ManualClock) SetWall(t time.Time) {
	c.mu.Lock()
	c.wall = t
	c.mu.Unlock()
}
