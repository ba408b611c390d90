package store

import (
	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

// Gate degrades storage to in-memory path on first failure.
// Availability flag is set at boot and on first failure, re-checked only by Reprobe.
type Gate struct {
	Log       *log2.Log
	OnFailure func(op string)
	backend   Store
	available bool
}

var _ Store = &Gate{}

// NewGate probes backend once. Nil backend means storage is absent for process lifetime.
func NewGate(backend Store, log *log2.Log) *Gate {
	g := &Gate{Log: log, backend: backend}
	if backend == nil {
		log.Errorf("store unavailable, running in memory only")
		return g
	}
	if err := backend.Probe(); err != nil {
		log.Errorf("store unavailable at boot err=%v", err)
		return g
	}
	g.available = true
	return g
}

func (g *Gate) Available() bool { return g.available }

func (g *Gate) fail(op string, err error) error {
	if g.available {
		g.available = false
		g.Log.Errorf("store unavailable op=%s err=%v", op, err)
	}
	if g.OnFailure != nil {
		g.OnFailure(op)
	}
	return err
}

// Reprobe runs on probe task. Returns nil when storage is usable.
func (g *Gate) Reprobe() error {
	if g.backend == nil {
		return ErrUnavailable
	}
	if err := g.backend.Probe(); err != nil {
		return g.fail("probe", err)
	}
	if !g.available {
		g.available = true
		g.Log.Infof("store available again")
	}
	return nil
}

func (g *Gate) AppendDaily(r DailyRow) error {
	if !g.available {
		return ErrUnavailable
	}
	if err := g.backend.AppendDaily(r); err != nil {
		return g.fail("daily", err)
	}
	return nil
}

func (g *Gate) DailyHas(date, deviceID string) (bool, error) {
	if !g.available {
		return false, ErrUnavailable
	}
	found, err := g.backend.DailyHas(date, deviceID)
	if err != nil {
		return false, g.fail("daily", err)
	}
	return found, nil
}

func (g *Gate) AppendCheckpoint(r CheckpointRow) error {
	if !g.available {
		return ErrUnavailable
	}
	if err := g.backend.AppendCheckpoint(r); err != nil {
		if errors.IsNotValid(err) {
			return err
		}
		return g.fail("checkpoint", err)
	}
	return nil
}

func (g *Gate) LastCheckpoint(domain, deviceID string) (CheckpointRow, bool, error) {
	if !g.available {
		return CheckpointRow{}, false, ErrUnavailable
	}
	r, found, err := g.backend.LastCheckpoint(domain, deviceID)
	if err != nil {
		return CheckpointRow{}, false, g.fail("checkpoint", err)
	}
	return r, found, nil
}

func (g *Gate) AppendIntervals(r IntervalRow) error {
	if !g.available {
		return ErrUnavailable
	}
	if err := g.backend.AppendIntervals(r); err != nil {
		return g.fail("intervals", err)
	}
	return nil
}

func (g *Gate) LastIntervals(deviceID string) (IntervalRow, bool, error) {
	if !g.available {
		return IntervalRow{}, false, ErrUnavailable
	}
	r, found, err := g.backend.LastIntervals(deviceID)
	if err != nil {
		return IntervalRow{}, false, g.fail("intervals", err)
	}
	return r, found, nil
}

func (g *Gate) AppendRecord(r *types.Record) error {
	if !g.available {
		return ErrUnavailable
	}
	if err := g.backend.AppendRecord(r); err != nil {
		return g.fail("record", err)
	}
	return nil
}

func (g *Gate) Probe() error { return g.Reprobe() }

func (g *Gate) Close() error {
	if g.backend == nil {
		return nil
	}
	return g.backend.Close()
}
