// Package power samples external energy meter and tracks its availability.
package power

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

var ErrUnavailable = errors.New("power meter unavailable")

// Meter yields calibrated readings. Implemented by hardware/pzem.
type Meter interface {
	Read(ctx context.Context) (types.Reading, error)
	Reconnect(ctx context.Context) error
	ResetEnergy(ctx context.Context) error
}

type State struct {
	types.Reading
	Available bool
	LastRead  time.Duration // uptime of last successful read
	Failures  uint64
}

type Sampler struct {
	Log   *log2.Log
	meter Meter
	state State
}

// New starts in available state when meter is present, first Sample tells the truth.
func New(meter Meter, log *log2.Log) *Sampler {
	return &Sampler{Log: log, meter: meter, state: State{Available: meter != nil}}
}

func (self *Sampler) State() State { return self.state }

func (self *Sampler) Reading() types.Reading { return self.state.Reading }

func (self *Sampler) Available() bool { return self.state.Available }

// RestoreEnergy sets energy from checkpoint until first successful read overwrites it.
func (self *Sampler) RestoreEnergy(v float64) { self.state.Energy = v }

// Sample runs on power task. Skipped while unavailable, last good reading is retained on failure.
func (self *Sampler) Sample(ctx context.Context, now time.Duration) error {
	if self.meter == nil || !self.state.Available {
		return ErrUnavailable
	}
	r, err := self.meter.Read(ctx)
	if err != nil {
		self.state.Available = false
		self.state.Failures++
		err = errors.Annotate(err, "power sample")
		self.Log.Error(err)
		return err
	}
	self.state.Reading = r
	self.state.LastRead = now
	return nil
}

// Retry runs on longer power_retry task. Only acts while unavailable.
// Returns true when meter came back and reading was refreshed.
func (self *Sampler) Retry(ctx context.Context, now time.Duration) bool {
	if self.meter == nil || self.state.Available {
		return false
	}
	if err := self.meter.Reconnect(ctx); err != nil {
		self.Log.Debugf("power retry err=%v", err)
		return false
	}
	self.Log.Infof("power meter reconnected")
	self.state.Available = true
	_ = self.Sample(ctx, now)
	return self.state.Available
}

// ResetEnergy delegates to meter. Local energy is zeroed only when meter confirmed.
func (self *Sampler) ResetEnergy(ctx context.Context) error {
	if self.meter == nil || !self.state.Available {
		return ErrUnavailable
	}
	if err := self.meter.ResetEnergy(ctx); err != nil {
		return errors.Annotate(err, "power reset energy")
	}
	self.state.Energy = 0
	return nil
}
