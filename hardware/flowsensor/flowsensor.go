// Package flowsensor counts flow meter pulses from GPIO rising edge events.
// Reader goroutine is the only writer of pulse.Counter.
package flowsensor

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/internal/pulse"
	"github.com/temoto/flowtele/log2"
	gpio "github.com/temoto/gpio-cdev-go"
)

const consumerLabel = "flowtele-flow"
const defaultWaitTimeout = 1 * time.Second

type Config struct {
	Chip        string
	Line        uint32
	WaitTimeout time.Duration
}

type Sensor struct {
	Log     *log2.Log
	chip    gpio.Chiper
	ev      gpio.Eventer
	counter *pulse.Counter
	timeout time.Duration
	alive   *alive.Alive
	backoff helpers.Backoff
	errors  uint64
}

func Open(config Config, counter *pulse.Counter, log *log2.Log) (*Sensor, error) {
	chip, err := gpio.Open(config.Chip, consumerLabel)
	if err != nil {
		return nil, errors.Annotatef(err, "flowsensor open chip=%s", config.Chip)
	}
	ev, err := chip.GetLineEvent(config.Line, 0, gpio.GPIOEVENT_REQUEST_RISING_EDGE, consumerLabel)
	if err != nil {
		_ = chip.Close()
		return nil, errors.Annotatef(err, "flowsensor line event chip=%s line=%d", config.Chip, config.Line)
	}
	self := NewSensor(ev, counter, config.WaitTimeout, log)
	self.chip = chip
	return self, nil
}

// NewSensor wraps already opened event line.
func NewSensor(ev gpio.Eventer, counter *pulse.Counter, timeout time.Duration, log *log2.Log) *Sensor {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return &Sensor{
		Log:     log,
		ev:      ev,
		counter: counter,
		timeout: timeout,
		alive:   alive.NewAlive(),
		backoff: helpers.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, K: 2},
	}
}

func (self *Sensor) Start() {
	if !self.alive.Add(1) {
		return
	}
	go self.readLoop()
}

func (self *Sensor) Stop() error {
	self.alive.Stop()
	self.alive.Wait()
	errs := []error{self.ev.Close()}
	if self.chip != nil {
		errs = append(errs, self.chip.Close())
	}
	return errors.Annotate(helpers.FoldErrors(errs), "flowsensor close")
}

// Errors counts event read failures other than timeout.
func (self *Sensor) Errors() uint64 { return atomic.LoadUint64(&self.errors) }

func (self *Sensor) readLoop() {
	defer self.alive.Done()
	failed := false
	for self.alive.IsRunning() {
		edge, err := self.ev.Wait(self.timeout)
		if err != nil {
			if gpio.IsTimeout(err) {
				continue
			}
			atomic.AddUint64(&self.errors, 1)
			failed = true
			self.backoff.Failure()
			delay := self.backoff.DelayBefore()
			self.Log.Errorf("flowsensor wait err=%v retry=%s", err, delay)
			select {
			case <-time.After(delay):
			case <-self.alive.StopChan():
			}
			continue
		}
		if failed {
			// isolated error later starts from minimal delay again
			self.backoff.Reset()
			failed = false
		}
		if edge.ID != gpio.GPIOEVENT_EVENT_RISING_EDGE {
			continue
		}
		self.counter.Inc()
	}
}
