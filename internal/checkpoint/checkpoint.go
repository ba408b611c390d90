// Package checkpoint persists cumulative counters when they drift from last checkpoint.
package checkpoint

import (
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/log2"
)

// Epsilon is minimal change of any tracked value, in domain units, worth a new row.
const Epsilon = 0.001

const (
	DomainFlow  = "flow"  // values: total volume, daily volume
	DomainPower = "power" // values: energy
)

type Store interface {
	AppendCheckpoint(store.CheckpointRow) error
	LastCheckpoint(domain, deviceID string) (store.CheckpointRow, bool, error)
}

type tracker struct {
	last []float64
}

type Manager struct {
	Log      *log2.Log
	OnWrite  func(domain string)
	store    Store
	deviceID string
	domains  map[string]*tracker
}

func New(s Store, deviceID string, log *log2.Log) *Manager {
	return &Manager{
		Log:      log,
		store:    s,
		deviceID: deviceID,
		domains:  make(map[string]*tracker, 2),
	}
}

func (self *Manager) tracker(domain string) *tracker {
	t, ok := self.domains[domain]
	if !ok {
		t = &tracker{}
		self.domains[domain] = t
	}
	return t
}

// Restore reads final intact row of domain log written by this device.
// Missing log, foreign identity or storage error leave values at zero.
func (self *Manager) Restore(domain string, n int) ([]float64, bool) {
	values := make([]float64, n)
	row, found, err := self.store.LastCheckpoint(domain, self.deviceID)
	if err != nil {
		self.Log.Errorf("checkpoint restore domain=%s err=%v", domain, err)
		return values, false
	}
	if !found {
		self.Log.Infof("checkpoint restore domain=%s no previous record", domain)
		return values, false
	}
	copy(values, row.Values)
	self.tracker(domain).last = append([]float64(nil), values...)
	self.Log.Infof("checkpoint restore domain=%s values=%v uptime=%s", domain, values, row.Uptime)
	return values, true
}

// Drift is largest absolute difference from last checkpoint, missing last is zero.
func (self *Manager) Drift(domain string, values []float64) float64 {
	last := self.tracker(domain).last
	max := 0.0
	for i, v := range values {
		prev := 0.0
		if i < len(last) {
			prev = last[i]
		}
		if d := math.Abs(v - prev); d > max {
			max = d
		}
	}
	return max
}

// Check appends row when drift exceeds Epsilon or force is set.
// Returns true when row was written. Failed write keeps last values, next tick retries.
func (self *Manager) Check(domain string, values []float64, wall time.Time, uptime time.Duration, force bool) (bool, error) {
	if !force && self.Drift(domain, values) <= Epsilon {
		return false, nil
	}
	row := store.CheckpointRow{
		DeviceID: self.deviceID,
		Domain:   domain,
		Values:   append([]float64(nil), values...),
		Time:     wall,
		Uptime:   uptime,
	}
	if err := self.store.AppendCheckpoint(row); err != nil {
		return false, errors.Annotatef(err, "checkpoint domain=%s", domain)
	}
	self.tracker(domain).last = row.Values
	if self.OnWrite != nil {
		self.OnWrite(domain)
	}
	self.Log.Debugf("checkpoint domain=%s values=%v force=%t", domain, values, force)
	return true, nil
}
