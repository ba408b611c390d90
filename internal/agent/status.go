package agent

import (
	"time"

	"github.com/temoto/flowtele/internal/types"
)

// Status is immutable snapshot served by diagnostics.
type Status struct {
	DeviceID       string            `json:"device_id"`
	Location       string            `json:"location"`
	Uptime         string            `json:"uptime"`
	Wall           string            `json:"wall,omitempty"`
	FlowRate       float64           `json:"flow_rate"`
	TotalVolume    float64           `json:"total_volume"`
	Calibration    float64           `json:"calibration"`
	PendingPulses  uint32            `json:"pending_pulses"`
	DailyVolume    float64           `json:"daily_volume"`
	PreviousDay    float64           `json:"previous_day_volume"`
	CurrentDate    string            `json:"current_date"`
	LastResetDate  string            `json:"last_reset_date"`
	LedgerState    string            `json:"ledger_state"`
	Power          types.Reading     `json:"power"`
	PowerAvailable bool              `json:"power_available"`
	StoreAvailable bool              `json:"store_available"`
	Online         bool              `json:"online"`
	QueueLen       int               `json:"queue_len"`
	QueueCap       int               `json:"queue_cap"`
	Intervals      map[string]string `json:"intervals"`
	DisplayAlt     bool              `json:"display_alt"`
}

func (self *Agent) Status() Status {
	flow := self.flow.State()
	snap := self.ledger.Snapshot()
	s := Status{
		DeviceID:       self.deviceID,
		Location:       self.location,
		Uptime:         self.clock.Uptime().Truncate(time.Second).String(),
		FlowRate:       flow.Rate,
		TotalVolume:    flow.Total,
		Calibration:    flow.Calibration,
		PendingPulses:  self.counter.Peek(),
		DailyVolume:    snap.DailyVolume,
		PreviousDay:    snap.PreviousDayVolume,
		CurrentDate:    snap.CurrentDate,
		LastResetDate:  snap.LastResetDate,
		LedgerState:    snap.State.String(),
		Power:          self.power.Reading(),
		PowerAvailable: self.power.Available(),
		StoreAvailable: self.store.Available(),
		Online:         self.transport.Ready(),
		QueueLen:       self.queue.Len(),
		QueueCap:       self.queue.Cap(),
		Intervals:      make(map[string]string, len(types.Tasks)),
		DisplayAlt:     self.display,
	}
	if wall, ok := self.clock.Wall(); ok {
		s.Wall = wall.Format(types.TimestampLayout)
	}
	for _, name := range self.sched.Names() {
		d, _ := self.sched.Interval(name)
		s.Intervals[name] = d.String()
	}
	return s
}
