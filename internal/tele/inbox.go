package tele

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/flowtele/internal/command"
	"github.com/temoto/flowtele/log2"
	"github.com/temoto/spq"
)

// Inbound is one journaled command payload.
type Inbound struct {
	Channel command.Channel
	Payload []byte
}

// Inbox journals inbound commands so they survive restart.
// Transport goroutine pushes, main tick polls without blocking, applies, then acks.
// Acked item is deleted from journal, unacked item is delivered again after restart.
type Inbox struct {
	log   *log2.Log
	q     *spq.Queue
	alive *alive.Alive
	itemc chan Inbound
	ackc  chan struct{}
	// set by Ack, next Poll waits for worker to hand over following item
	acked bool
}

// Upper bound of Poll wait right after Ack.
const pollAfterAck = 50 * time.Millisecond

// OpenInbox path=spq.OnlyForTesting keeps journal in memory.
func OpenInbox(path string, log *log2.Log) (*Inbox, error) {
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "tele inbox open path=%s", path)
	}
	self := &Inbox{
		log:   log,
		q:     q,
		alive: alive.NewAlive(),
		itemc: make(chan Inbound),
		ackc:  make(chan struct{}, 1),
	}
	self.alive.Add(1)
	go self.qworker()
	return self, nil
}

// Push is CommandCallback for transport.
func (self *Inbox) Push(channel command.Channel, payload []byte) {
	b := make([]byte, 0, 1+len(payload))
	b = append(b, byte(channel))
	b = append(b, payload...)
	if err := self.q.Push(b); err != nil {
		self.log.Errorf("tele inbox push err=%v", err)
	}
}

// Poll returns next command if worker has one ready. Caller must Ack it.
// Right after Ack it waits up to pollAfterAck, so backlog drains within one tick.
// Poll and Ack are for single consumer goroutine.
func (self *Inbox) Poll() (Inbound, bool) {
	if self.acked {
		self.acked = false
		tmr := time.NewTimer(pollAfterAck)
		defer tmr.Stop()
		select {
		case in := <-self.itemc:
			return in, true
		case <-tmr.C:
			return Inbound{}, false
		}
	}
	select {
	case in := <-self.itemc:
		return in, true
	default:
		return Inbound{}, false
	}
}

func (self *Inbox) Ack() {
	select {
	case self.ackc <- struct{}{}:
		self.acked = true
	default:
	}
}

func (self *Inbox) Close() error {
	self.alive.Stop()
	err := self.q.Close()
	self.alive.Wait()
	return errors.Annotate(err, "tele inbox close")
}

func (self *Inbox) qworker() {
	defer self.alive.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
		case spq.ErrClosed:
			if !self.alive.IsRunning() {
				return
			}
			self.log.Errorf("CRITICAL tele inbox spq closed unexpectedly")
			return
		default:
			self.log.Errorf("CRITICAL tele inbox spq err=%v", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-self.alive.StopChan():
				return
			}
		}

		b := box.Bytes()
		if len(b) == 0 {
			self.log.Errorf("tele inbox peek=empty")
			self.delete(box)
			continue
		}
		in := Inbound{Channel: command.Channel(b[0]), Payload: append([]byte(nil), b[1:]...)}
		select {
		case self.itemc <- in:
		case <-self.alive.StopChan():
			return
		}
		select {
		case <-self.ackc:
			self.delete(box)
		case <-self.alive.StopChan():
			return
		}
	}
}

func (self *Inbox) delete(box spq.Box) {
	if err := self.q.Delete(box); err != nil && err != spq.ErrClosed {
		self.log.Errorf("tele inbox delete err=%v", err)
	}
}
