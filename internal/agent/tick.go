package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/checkpoint"
	"github.com/temoto/flowtele/internal/ledger"
	"github.com/temoto/flowtele/internal/power"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/types"
)

// Tick runs due tasks to completion and applies pending commands.
// Nothing here blocks longer than transport publish timeout.
func (self *Agent) Tick(ctx context.Context) {
	now := self.clock.Uptime()
	wall, valid := self.clock.Wall()
	sched := self.sched

	if sched.Due(types.TaskFlow, now) {
		n, _ := self.flow.Tick(now)
		self.stat.Pulses.Add(float64(n))
	}
	if sched.Due(types.TaskPower, now) {
		if err := self.power.Sample(ctx, now); err != nil && errors.Cause(err) != power.ErrUnavailable {
			self.stat.MeterErrors.Inc()
		}
	}
	if sched.Due(types.TaskPowerRetry, now) {
		self.power.Retry(ctx, now)
	}
	if sched.Due(types.TaskLedger, now) {
		self.ledger.Tick(wall, valid)
	}
	if sched.Due(types.TaskPublish, now) {
		self.enqueue(wall)
		self.drain()
	}
	if sched.Due(types.TaskDrain, now) {
		self.drain()
	}
	if sched.Due(types.TaskLog, now) {
		self.logRecord(wall)
	}
	if sched.Due(types.TaskProbe, now) {
		if err := self.store.Reprobe(); err != nil {
			self.Log.Debugf("agent probe err=%v", err)
		}
	}
	if sched.Due(types.TaskCheckpointFlow, now) {
		self.checkpointFlow(false)
	}
	if sched.Due(types.TaskCheckpointPower, now) {
		self.checkpointPower(false)
	}

	self.applyCommands(ctx)

	self.stat.QueueDepth.Set(float64(self.queue.Len()))
	if self.observer != nil {
		self.observer.SetStatus(self.Status())
	}
}

// Record assembles telemetry from ledger, integrator and power state.
func (self *Agent) Record(wall time.Time) *types.Record {
	flow := self.flow.State()
	snap := self.ledger.Snapshot()
	status := types.StatusOffline
	if self.transport.Ready() {
		status = types.StatusOnline
	}
	return &types.Record{
		DeviceID:      self.deviceID,
		Location:      self.location,
		Time:          wall,
		FlowRate:      flow.Rate,
		TotalVolume:   flow.Total,
		DailyVolume:   snap.DailyVolume,
		Power:         self.power.Reading(),
		LastResetDate: snap.LastResetDate,
		ResetPending:  snap.State == ledger.ResetPending,
		Status:        status,
	}
}

func (self *Agent) enqueue(wall time.Time) {
	b, err := json.Marshal(self.Record(wall))
	if err != nil {
		self.Log.Errorf("agent record encode err=%v", err)
		return
	}
	// full queue is counted and logged by queue
	_ = self.queue.Enqueue(b)
	if self.observer != nil {
		self.observer.Broadcast(b)
	}
}

// drain is opportunistic, unreachable transport is not waited for.
func (self *Agent) drain() {
	if self.queue.Len() == 0 || !self.transport.Ready() {
		return
	}
	self.queue.Drain(func(b []byte) bool {
		ok := self.transport.SendTelemetry(b)
		self.stat.PublishResult(ok)
		return ok
	})
}

func (self *Agent) logRecord(wall time.Time) {
	if err := self.store.AppendRecord(self.Record(wall)); err != nil && errors.Cause(err) != store.ErrUnavailable {
		self.Log.Errorf("agent record log err=%v", err)
	}
}

func (self *Agent) checkpointFlow(force bool) {
	wall, _ := self.clock.Wall()
	values := []float64{self.flow.Total(), self.ledger.DailyVolume()}
	self.checkpointWrite(checkpoint.DomainFlow, values, wall, force)
}

func (self *Agent) checkpointPower(force bool) {
	wall, _ := self.clock.Wall()
	values := []float64{self.power.Reading().Energy}
	self.checkpointWrite(checkpoint.DomainPower, values, wall, force)
}

func (self *Agent) checkpointWrite(domain string, values []float64, wall time.Time, force bool) {
	_, err := self.checkpoint.Check(domain, values, wall, self.clock.Uptime(), force)
	if err != nil && errors.Cause(err) != store.ErrUnavailable {
		self.Log.Error(err)
	}
}
