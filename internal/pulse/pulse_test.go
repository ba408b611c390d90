package pulse

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkMock struct{ sum float64 }

func (s *sinkMock) AddVolume(v float64) { s.sum += v }

func TestIntegratorTick(t *testing.T) {
	t.Parallel()
	var c Counter
	sink := &sinkMock{}
	i := NewIntegrator(&c, sink, 7.5, 0)

	for n := 0; n < 75; n++ {
		c.Inc()
	}
	count, inc := i.Tick(1 * time.Second)
	assert.Equal(t, uint32(75), count)
	// 75 Hz * 60 / 7.5 = 600 units/min; 10 units per second
	assert.InDelta(t, 600, i.State().Rate, 1e-9)
	assert.InDelta(t, 10, inc, 1e-9)
	assert.InDelta(t, 10, i.Total(), 1e-9)
	assert.InDelta(t, 10, sink.sum, 1e-9)
	assert.Equal(t, uint32(0), c.Peek())

	// zero pulses reset rate, no smoothing
	count, inc = i.Tick(2 * time.Second)
	assert.Equal(t, uint32(0), count)
	assert.Equal(t, 0.0, inc)
	assert.Equal(t, 0.0, i.State().Rate)
	assert.InDelta(t, 10, i.Total(), 1e-9)
}

func TestIntegratorElapsed(t *testing.T) {
	t.Parallel()
	var c Counter
	i := NewIntegrator(&c, nil, 4.5, 10*time.Second)
	for n := 0; n < 9; n++ {
		c.Inc()
	}
	// non-positive elapsed leaves pulses for next tick
	count, _ := i.Tick(10 * time.Second)
	assert.Equal(t, uint32(0), count)
	assert.Equal(t, uint32(9), c.Peek())

	count, inc := i.Tick(10*time.Second + 500*time.Millisecond)
	assert.Equal(t, uint32(9), count)
	// 18 Hz * 60 / 4.5 = 240 units/min over 0.5s = 2 units
	assert.InDelta(t, 240, i.State().Rate, 1e-9)
	assert.InDelta(t, 2, inc, 1e-9)
}

func TestTotalMonotonic(t *testing.T) {
	t.Parallel()
	var c Counter
	i := NewIntegrator(&c, nil, DefaultCalibration, 0)
	prev := 0.0
	for tick := 1; tick <= 200; tick++ {
		for n := 0; n < (tick*7)%13; n++ {
			c.Inc()
		}
		i.Tick(time.Duration(tick) * 250 * time.Millisecond)
		require.GreaterOrEqual(t, i.Total(), prev)
		prev = i.Total()
	}
	i.ResetTotal()
	assert.Equal(t, 0.0, i.Total())
}

func TestCounterConcurrentSwap(t *testing.T) {
	t.Parallel()
	const writers = 4
	const perWriter = 20000
	var c Counter
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for n := 0; n < perWriter; n++ {
				c.Inc()
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	var total uint64
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			total += uint64(c.Swap())
		}
	}
	total += uint64(c.Swap())
	assert.Equal(t, uint64(writers*perWriter), total)
}

func TestCalibration(t *testing.T) {
	t.Parallel()
	var c Counter
	i := NewIntegrator(&c, nil, 3.3, 0)
	assert.Equal(t, DefaultCalibration, i.State().Calibration)
	assert.False(t, i.SetCalibration(0))
	assert.True(t, i.SetCalibration(11))
	assert.Equal(t, 11.0, i.State().Calibration)
}
