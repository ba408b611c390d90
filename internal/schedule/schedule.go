// Package schedule tracks named periodic tasks for cooperative main loop.
// Not thread-safe, owned by single tick.
package schedule

import (
	"sort"
	"time"
)

const (
	MinInterval = 1 * time.Second
	MaxInterval = 1 * time.Hour
)

type task struct {
	interval time.Duration
	lastRun  time.Duration
}

// Scheduler maps task name to interval and last run uptime.
// Times are monotonic uptime, see types.Clock.
type Scheduler struct {
	min   time.Duration
	max   time.Duration
	tasks map[string]*task
}

func New(min, max time.Duration) *Scheduler {
	if min <= 0 || max < min {
		panic("code error schedule.New invalid bounds")
	}
	return &Scheduler{
		min:   min,
		max:   max,
		tasks: make(map[string]*task),
	}
}

func NewDefault() *Scheduler { return New(MinInterval, MaxInterval) }

func (s *Scheduler) InBounds(d time.Duration) bool { return d >= s.min && d <= s.max }

func (s *Scheduler) Clamp(d time.Duration) time.Duration {
	if d < s.min {
		return s.min
	}
	if d > s.max {
		return s.max
	}
	return d
}

// Register adds task with interval clamped to bounds.
// First run is due one interval after uptime zero.
// Registering existing name only changes its interval.
func (s *Scheduler) Register(name string, interval time.Duration) {
	interval = s.Clamp(interval)
	if t, ok := s.tasks[name]; ok {
		t.interval = interval
		return
	}
	s.tasks[name] = &task{interval: interval}
}

// Due returns true iff now-lastRun >= interval and then marks task as run at now.
// Unknown name is never due.
func (s *Scheduler) Due(name string, now time.Duration) bool {
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if now-t.lastRun < t.interval {
		return false
	}
	t.lastRun = now
	return true
}

// SetInterval applies interval only within bounds, otherwise state is unchanged.
func (s *Scheduler) SetInterval(name string, interval time.Duration) bool {
	t, ok := s.tasks[name]
	if !ok || !s.InBounds(interval) {
		return false
	}
	t.interval = interval
	return true
}

func (s *Scheduler) Interval(name string) (time.Duration, bool) {
	if t, ok := s.tasks[name]; ok {
		return t.interval, true
	}
	return 0, false
}

func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
