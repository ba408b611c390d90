// Package pulse integrates flow sensor pulses into flow rate and volume.
package pulse

import (
	"sync/atomic"
	"time"
)

// Counter is written by interrupt source and drained by main tick.
// Inc and Swap are the only access paths.
type Counter struct{ n uint32 }

func (c *Counter) Inc() { atomic.AddUint32(&c.n, 1) }

// Swap reads and clears counter in one atomic step, so no pulse is counted twice or lost.
func (c *Counter) Swap() uint32 { return atomic.SwapUint32(&c.n, 0) }

// Peek is for diagnostics only.
func (c *Counter) Peek() uint32 { return atomic.LoadUint32(&c.n) }

const DefaultCalibration = 7.5

// Calibrations lists supported sensor factors, pulse Hz per volume-unit/minute.
var Calibrations = [...]float64{4.5, 5.5, 7.5, 11}

func ValidCalibration(f float64) bool {
	for _, c := range Calibrations {
		if c == f {
			return true
		}
	}
	return false
}

type FlowState struct {
	Rate        float64 // volume-units/minute, 0 when no pulses in last tick
	Total       float64 // cumulative volume, only reset by command
	Calibration float64
}

// VolumeSink receives every volume increment, e.g. daily ledger.
type VolumeSink interface {
	AddVolume(float64)
}

type Integrator struct {
	counter  *Counter
	sink     VolumeSink
	state    FlowState
	lastTick time.Duration
}

// NewIntegrator starts measuring elapsed time from uptime `now`.
// Invalid calibration falls back to DefaultCalibration.
func NewIntegrator(counter *Counter, sink VolumeSink, calibration float64, now time.Duration) *Integrator {
	if !ValidCalibration(calibration) {
		calibration = DefaultCalibration
	}
	return &Integrator{
		counter:  counter,
		sink:     sink,
		state:    FlowState{Calibration: calibration},
		lastTick: now,
	}
}

// Tick converts pulses accumulated since previous tick into rate and volume.
// Returns swapped pulse count and volume increment.
func (self *Integrator) Tick(now time.Duration) (uint32, float64) {
	elapsed := now - self.lastTick
	if elapsed <= 0 {
		return 0, 0
	}
	count := self.counter.Swap()
	self.lastTick = now
	if count == 0 {
		self.state.Rate = 0
		return 0, 0
	}

	seconds := elapsed.Seconds()
	frequency := float64(count) / seconds
	self.state.Rate = frequency * 60 / self.state.Calibration
	increment := (self.state.Rate / 60) * seconds
	self.state.Total += increment
	if self.sink != nil {
		self.sink.AddVolume(increment)
	}
	return count, increment
}

func (self *Integrator) State() FlowState { return self.state }

func (self *Integrator) Total() float64 { return self.state.Total }

func (self *Integrator) ResetTotal() { self.state.Total = 0 }

// RestoreTotal is used by checkpoint recovery at boot.
func (self *Integrator) RestoreTotal(v float64) { self.state.Total = v }

func (self *Integrator) SetCalibration(f float64) bool {
	if !ValidCalibration(f) {
		return false
	}
	self.state.Calibration = f
	return true
}
