// Package queue buffers serialized telemetry records while transport is unreachable.
package queue

import (
	"github.com/juju/errors"
	"github.com/temoto/flowtele/log2"
)

var ErrFull = errors.New("offline queue full")

// Queue is fixed capacity FIFO ring. Overflow policy is reject-newest.
// Not safe for concurrent use, owned by main tick.
type Queue struct {
	Log    *log2.Log
	OnDrop func()
	buf    [][]byte
	head   int
	tail   int
	count  int
}

func New(capacity int, log *log2.Log) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{Log: log, buf: make([][]byte, capacity)}
}

func (self *Queue) Len() int { return self.count }
func (self *Queue) Cap() int { return len(self.buf) }

// Enqueue stores b at tail. Full queue drops b and leaves state untouched.
func (self *Queue) Enqueue(b []byte) error {
	if self.count == len(self.buf) {
		self.Log.Warnf("queue full capacity=%d record dropped", len(self.buf))
		if self.OnDrop != nil {
			self.OnDrop()
		}
		return ErrFull
	}
	self.buf[self.tail] = b
	self.tail = (self.tail + 1) % len(self.buf)
	self.count++
	return nil
}

// Drain publishes from head in FIFO order and stops at first failure.
// Returns number of delivered records.
func (self *Queue) Drain(publish func([]byte) bool) int {
	sent := 0
	for self.count > 0 {
		if !publish(self.buf[self.head]) {
			break
		}
		self.buf[self.head] = nil
		self.head = (self.head + 1) % len(self.buf)
		self.count--
		sent++
	}
	return sent
}
