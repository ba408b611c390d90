// Package ledger owns calendar-day volume and runs day rollover state machine.
package ledger

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/persist"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

const DefaultWindow = 60 * time.Second

type DailyLog interface {
	AppendDaily(store.DailyRow) error
	DailyHas(date, deviceID string) (bool, error)
}

type Snapshot struct {
	Meta
	DailyVolume float64
}

type Ledger struct {
	Log        *log2.Log
	OnRollover func(date string, volume float64)

	deviceID  string
	window    time.Duration
	daily     DailyLog
	meta      Meta
	volume    float64
	recovered bool
	persist   persist.Persist
}

var _ persist.Stater = &Ledger{}

func New(deviceID string, window time.Duration, daily DailyLog, log *log2.Log) *Ledger {
	self := &Ledger{
		Log:      log,
		deviceID: deviceID,
		window:   window,
		daily:    daily,
	}
	_ = self.persist.Init("ledger", self, "", false, log)
	return self
}

// BindPersist loads metadata saved by previous process and keeps it updated on every transition.
func (self *Ledger) BindPersist(root string, enabled bool) error {
	if err := self.persist.Init("ledger", self, root, enabled, self.Log); err != nil {
		return errors.Annotate(err, "ledger")
	}
	found, err := self.persist.Load()
	if err != nil {
		return errors.Annotate(err, "ledger")
	}
	if found {
		self.Log.Infof("ledger restored date=%s last_reset=%s saved=%t state=%s",
			self.meta.CurrentDate, self.meta.LastResetDate, self.meta.Saved, self.meta.State)
	}
	return nil
}

func (self *Ledger) MarshalBinary() ([]byte, error) { return self.meta.MarshalBinary() }
func (self *Ledger) UnmarshalBinary(b []byte) error { return self.meta.UnmarshalBinary(b) }

func (self *Ledger) Snapshot() Snapshot { return Snapshot{Meta: self.meta, DailyVolume: self.volume} }

func (self *Ledger) DailyVolume() float64 { return self.volume }

// AddVolume is pulse integrator sink.
func (self *Ledger) AddVolume(v float64) { self.volume += v }

// RestoreDaily sets day volume from flow checkpoint at boot.
func (self *Ledger) RestoreDaily(v float64) { self.volume = v }

// Tick runs on ledger task. Nothing happens until wall clock is valid.
// First valid tick performs missed-rollover recovery.
func (self *Ledger) Tick(wall time.Time, valid bool) {
	if !valid {
		return
	}
	today := wall.Format(types.DateLayout)
	if !self.recovered {
		self.recovered = true
		self.recover(wall, today)
	}

	switch self.meta.CurrentDate {
	case today:
	case "":
		self.meta.CurrentDate = today
		self.storeMeta()
	default:
		// any mismatch, including clock set backward
		self.rollover(today, wall)
	}

	if self.inWindow(wall) {
		if self.meta.State == Accumulating {
			self.meta.State = ResetPending
			if !self.meta.Saved {
				self.persistDaily(wall)
			}
			self.storeMeta()
		}
	} else if self.meta.State == ResetPending {
		self.meta.State = Accumulating
		self.storeMeta()
	}
}

// Reset is manual rollover independent of date.
func (self *Ledger) Reset(wall time.Time, valid bool) {
	today := self.meta.CurrentDate
	if valid {
		today = wall.Format(types.DateLayout)
	}
	self.Log.Infof("ledger manual reset date=%s volume=%.3f", self.meta.CurrentDate, self.volume)
	self.rollover(today, wall)
}

func (self *Ledger) inWindow(wall time.Time) bool {
	if self.window <= 0 {
		return false
	}
	y, m, d := wall.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, wall.Location())
	return midnight.Sub(wall) <= self.window
}

// recover detects restart spanning midnight, before noon, with no row for today yet.
func (self *Ledger) recover(wall time.Time, today string) {
	if wall.Hour() >= 12 || self.meta.LastResetDate == today {
		return
	}
	// first boot or ledger already on today, nothing stale to archive
	if self.meta.CurrentDate == "" || self.meta.CurrentDate == today {
		return
	}
	has, err := self.daily.DailyHas(today, self.deviceID)
	if err != nil {
		self.Log.Errorf("ledger recovery skipped err=%v", err)
		return
	}
	if has {
		return
	}
	self.Log.Warnf("ledger missed rollover stale_date=%s last_reset=%s volume=%.3f",
		self.meta.CurrentDate, self.meta.LastResetDate, self.volume)
	self.rollover(today, wall)
}

func (self *Ledger) rollover(date string, wall time.Time) {
	if !self.meta.Saved && self.volume > 0 && self.meta.CurrentDate != "" {
		self.persistDaily(wall)
	}
	prevDate, volume := self.meta.CurrentDate, self.volume
	self.meta.PreviousDayVolume = self.volume
	self.volume = 0
	self.meta.Saved = false
	self.meta.CurrentDate = date
	self.meta.LastResetDate = date
	self.meta.State = Accumulating
	self.storeMeta()
	self.Log.Infof("ledger rollover date=%s previous=%s volume=%.3f", date, prevDate, volume)
	if self.OnRollover != nil {
		self.OnRollover(prevDate, volume)
	}
}

// persistDaily writes current day total. Storage failure leaves Saved=false.
func (self *Ledger) persistDaily(wall time.Time) {
	row := store.DailyRow{
		Date:     self.meta.CurrentDate,
		DeviceID: self.deviceID,
		Volume:   self.volume,
		Time:     wall,
	}
	if err := self.daily.AppendDaily(row); err != nil {
		self.Log.Errorf("ledger persist date=%s volume=%.3f err=%v", row.Date, row.Volume, err)
		return
	}
	self.meta.Saved = true
}

func (self *Ledger) storeMeta() {
	if err := self.persist.Store(); err != nil {
		self.Log.Error(err)
	}
}
