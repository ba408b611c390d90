// Package agent is the explicit device context: it owns every component
// and drives them from one cooperative tick.
package agent

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/checkpoint"
	"github.com/temoto/flowtele/internal/ledger"
	"github.com/temoto/flowtele/internal/power"
	"github.com/temoto/flowtele/internal/pulse"
	"github.com/temoto/flowtele/internal/queue"
	"github.com/temoto/flowtele/internal/schedule"
	"github.com/temoto/flowtele/internal/stat"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/tele"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

// Inbox yields journaled inbound commands, see tele.Inbox.
type Inbox interface {
	Poll() (tele.Inbound, bool)
	Ack()
}

// Observer receives status snapshot after every tick and every enqueued record.
type Observer interface {
	SetStatus(interface{})
	Broadcast([]byte)
}

// Commands applied per tick, rest wait for next tick.
const commandsPerTick = 8

type Options struct {
	DeviceID      string
	Location      string
	Calibration   float64
	QueueCapacity int
	LedgerWindow  time.Duration
	Intervals     map[string]time.Duration
	// ledger metadata directory, empty keeps it in memory
	PersistRoot string

	Clock     types.Clock
	Counter   *pulse.Counter
	Meter     power.Meter      // nil: no meter
	Store     store.Store      // nil: no storage
	Transport tele.Transporter // nil: offline
	Inbox     Inbox
	Stat      *stat.Stat
	Observer  Observer
}

// OptionsFromConfig fills values, caller attaches hardware and transport.
func OptionsFromConfig(c *state.Config) Options {
	opt := Options{
		DeviceID:      c.Device.ID,
		Location:      c.Device.Location,
		Calibration:   c.Flow.Calibration,
		QueueCapacity: c.QueueCapacity(),
		LedgerWindow:  c.LedgerWindow(),
		Intervals:     c.Intervals(),
	}
	if c.Persist.Root != "" {
		opt.PersistRoot = filepath.Join(c.Persist.Root, "ledger")
	}
	return opt
}

type Agent struct {
	Log *log2.Log

	deviceID    string
	location    string
	persistRoot string
	display     bool

	clock      types.Clock
	sched      *schedule.Scheduler
	counter    *pulse.Counter
	flow       *pulse.Integrator
	power      *power.Sampler
	ledger     *ledger.Ledger
	store      *store.Gate
	checkpoint *checkpoint.Manager
	queue      *queue.Queue
	transport  tele.Transporter
	inbox      Inbox
	stat       *stat.Stat
	observer   Observer
}

func New(opt Options, log *log2.Log) (*Agent, error) {
	if opt.DeviceID == "" {
		return nil, errors.NotValidf("agent device id empty")
	}
	if opt.Clock == nil {
		opt.Clock = types.NewSystemClock(nil)
	}
	if opt.Counter == nil {
		opt.Counter = new(pulse.Counter)
	}
	if opt.Transport == nil {
		opt.Transport = tele.Noop{}
	}
	if opt.Stat == nil {
		opt.Stat = stat.New()
	}
	if opt.LedgerWindow == 0 {
		opt.LedgerWindow = ledger.DefaultWindow
	}

	self := &Agent{
		Log:         log,
		deviceID:    opt.DeviceID,
		location:    opt.Location,
		persistRoot: opt.PersistRoot,
		clock:       opt.Clock,
		sched:       schedule.NewDefault(),
		counter:     opt.Counter,
		transport:   opt.Transport,
		inbox:       opt.Inbox,
		stat:        opt.Stat,
		observer:    opt.Observer,
	}
	for _, name := range types.Tasks {
		d, ok := opt.Intervals[name]
		if !ok {
			d = schedule.MinInterval
		}
		self.sched.Register(name, d)
	}

	self.store = store.NewGate(opt.Store, log)
	self.store.OnFailure = func(op string) { self.stat.StorageFailures.WithLabelValues(op).Inc() }
	self.checkpoint = checkpoint.New(self.store, opt.DeviceID, log)
	self.checkpoint.OnWrite = func(domain string) { self.stat.CheckpointWrites.WithLabelValues(domain).Inc() }
	self.ledger = ledger.New(opt.DeviceID, opt.LedgerWindow, self.store, log)
	// flow checkpoint carries daily volume, zero it with the rollover or restart resurrects old day
	self.ledger.OnRollover = func(string, float64) {
		self.stat.Rollovers.Inc()
		self.checkpointFlow(true)
	}
	self.flow = pulse.NewIntegrator(opt.Counter, self.ledger, opt.Calibration, opt.Clock.Uptime())
	self.power = power.New(opt.Meter, log)
	self.queue = queue.New(opt.QueueCapacity, log)
	self.queue.OnDrop = self.stat.QueueDrops.Inc
	return self, nil
}

// Boot restores durable state. Nothing here is fatal, missing data leaves zeros.
func (self *Agent) Boot(ctx context.Context) {
	if values, ok := self.checkpoint.Restore(checkpoint.DomainFlow, 2); ok {
		self.flow.RestoreTotal(values[0])
		self.ledger.RestoreDaily(values[1])
	}
	if values, ok := self.checkpoint.Restore(checkpoint.DomainPower, 1); ok {
		self.power.RestoreEnergy(values[0])
	}
	self.restoreIntervals()

	if err := self.ledger.BindPersist(self.persistRoot, self.persistRoot != ""); err != nil {
		self.Log.Errorf("agent boot ledger meta, continue in memory err=%v", err)
	}
	// first power sample without waiting for interval
	if err := self.power.Sample(ctx, self.clock.Uptime()); err != nil && errors.Cause(err) != power.ErrUnavailable {
		self.stat.MeterErrors.Inc()
	}
	self.Log.Infof("agent boot device=%s total=%.3f daily=%.3f energy=%.4f store=%t power=%t",
		self.deviceID, self.flow.Total(), self.ledger.DailyVolume(), self.power.Reading().Energy,
		self.store.Available(), self.power.Available())
}

// Last interval-config row for device wins, out of bounds values are ignored.
func (self *Agent) restoreIntervals() {
	row, found, err := self.store.LastIntervals(self.deviceID)
	if err != nil {
		if errors.Cause(err) != store.ErrUnavailable {
			self.Log.Errorf("agent boot intervals err=%v", err)
		}
		return
	}
	if !found {
		return
	}
	for task, d := range map[string]time.Duration{
		types.TaskLog:     row.SDWrite,
		types.TaskProbe:   row.SDRead,
		types.TaskPublish: row.MQTT,
	} {
		if !self.sched.SetInterval(task, d) {
			self.Log.Errorf("agent boot interval task=%s value=%s out of bounds, ignored", task, d)
		}
	}
}

// Loop runs Tick paced by interval until ctx is done.
func (self *Agent) Loop(ctx context.Context, interval time.Duration) {
	tmr := time.NewTicker(interval)
	defer tmr.Stop()
	for {
		self.Tick(ctx)
		select {
		case <-tmr.C:
		case <-ctx.Done():
			return
		}
	}
}

// Stop writes drifted counters and releases storage.
func (self *Agent) Stop() error {
	self.checkpointFlow(false)
	self.checkpointPower(false)
	return errors.Annotate(self.store.Close(), "agent stop")
}

func (self *Agent) Scheduler() *schedule.Scheduler { return self.sched }
func (self *Agent) QueueLen() int                  { return self.queue.Len() }
func (self *Agent) Store() *store.Gate             { return self.store }
