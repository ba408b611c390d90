package agent

import (
	"context"
	"time"

	"github.com/temoto/flowtele/internal/command"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/types"
)

var intervalTasks = map[string]string{
	command.KeySDWrite: types.TaskLog,
	command.KeySDRead:  types.TaskProbe,
	command.KeyMQTT:    types.TaskPublish,
}

func (self *Agent) applyCommands(ctx context.Context) {
	if self.inbox == nil {
		return
	}
	for i := 0; i < commandsPerTick; i++ {
		in, ok := self.inbox.Poll()
		if !ok {
			return
		}
		self.Apply(ctx, in.Channel, string(in.Payload))
		self.inbox.Ack()
	}
}

// Apply executes one textual command. Malformed or unknown input changes nothing.
// Device and broadcast channels accept the same grammar.
func (self *Agent) Apply(ctx context.Context, channel command.Channel, payload string) command.Command {
	cmd := command.Parse(payload)
	self.stat.Commands.WithLabelValues(cmd.Kind.String()).Inc()
	self.Log.Infof("agent command channel=%s kind=%s raw='%s'", channel, cmd.Kind, cmd.Raw)
	wall, valid := self.clock.Wall()

	switch cmd.Kind {
	case command.Unknown:
		self.Log.Debugf("agent command ignored raw='%s'", cmd.Raw)

	case command.ResetVolume:
		self.flow.ResetTotal()
		self.checkpointFlow(true)

	case command.ResetEnergy:
		if err := self.power.ResetEnergy(ctx); err != nil {
			self.Log.Errorf("agent command reset_energy err=%v", err)
			break
		}
		self.checkpointPower(true)

	case command.ResetDaily:
		// rollover hook writes flow checkpoint
		self.ledger.Reset(wall, valid)

	case command.Status:
		self.enqueue(wall)
		self.drain()

	case command.Checkpoint:
		self.checkpointFlow(true)
		self.checkpointPower(true)

	case command.ToggleDisplay:
		self.display = !self.display
		self.Log.Infof("agent display alt=%t", self.display)

	case command.Reboot:
		self.Log.Warnf("agent reboot requested, left to supervisor")

	case command.SetPublishInterval:
		self.setIntervals([]command.IntervalArg{{Key: command.KeyMQTT, Duration: cmd.Interval}}, wall)

	case command.SetIntervals:
		self.setIntervals(cmd.Intervals, wall)

	case command.SetCalibration:
		if !self.flow.SetCalibration(cmd.Calibration) {
			self.Log.Errorf("agent calibration=%v not supported, ignored", cmd.Calibration)
		}
	}
	return cmd
}

// setIntervals applies each key independently. Any accepted change appends interval-config row.
func (self *Agent) setIntervals(args []command.IntervalArg, wall time.Time) {
	changed := false
	for _, arg := range args {
		task := intervalTasks[arg.Key]
		if self.sched.SetInterval(task, arg.Duration) {
			changed = true
			self.Log.Infof("agent interval task=%s value=%s", task, arg.Duration)
		} else {
			self.Log.Errorf("agent interval key=%s value=%s out of bounds, ignored", arg.Key, arg.Duration)
		}
	}
	if !changed {
		return
	}
	row := store.IntervalRow{DeviceID: self.deviceID, Time: wall}
	row.SDWrite, _ = self.sched.Interval(types.TaskLog)
	row.SDRead, _ = self.sched.Interval(types.TaskProbe)
	row.MQTT, _ = self.sched.Interval(types.TaskPublish)
	if err := self.store.AppendIntervals(row); err != nil {
		self.Log.Debugf("agent interval persist err=%v", err)
	}
}
