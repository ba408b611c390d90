package types

// Scheduler task names.
// set_interval keys: mqtt=publish, sd_write=log, sd_read=probe.
const (
	TaskFlow            = "flow"
	TaskPower           = "power"
	TaskPowerRetry      = "power_retry"
	TaskLedger          = "ledger"
	TaskPublish         = "publish"
	TaskLog             = "log"
	TaskProbe           = "probe"
	TaskCheckpointFlow  = "checkpoint_flow"
	TaskCheckpointPower = "checkpoint_power"
	TaskDrain           = "drain"
)

var Tasks = [...]string{
	TaskFlow, TaskPower, TaskPowerRetry, TaskLedger, TaskPublish,
	TaskLog, TaskProbe, TaskCheckpointFlow, TaskCheckpointPower, TaskDrain,
}
