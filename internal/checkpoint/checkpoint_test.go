package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/log2"
)

var testWall = time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

func TestEpsilon(t *testing.T) {
	t.Parallel()
	s, err := store.OpenFile(t.TempDir())
	require.NoError(t, err)
	m := New(s, "fm-01", log2.NewTest(t, log2.LDebug))

	cases := []struct {
		name   string
		values []float64
		force  bool
		expect bool
	}{
		{"zero-start", []float64{0, 0}, false, false},
		{"below-epsilon", []float64{0.0009, 0.0009}, false, false},
		{"above-epsilon", []float64{0.0021, 0.0021}, false, true},
		{"same", []float64{0.0021, 0.0021}, false, false},
		{"second-value-drift", []float64{0.0021, 1}, false, true},
		{"forced", []float64{0.0021, 1}, true, true},
	}
	for i, c := range cases {
		wrote, err := m.Check(DomainFlow, c.values, testWall, time.Duration(i)*time.Second, c.force)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.expect, wrote, c.name)
	}
}

func TestRestoreAfterCrash(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	log := log2.NewTest(t, log2.LDebug)
	s, err := store.OpenFile(root)
	require.NoError(t, err)
	m := New(s, "fm-01", log)

	total := 0.0
	energy := 0.0
	for tick := 1; tick <= 500; tick++ {
		total += 0.0004 * float64(tick%7)
		energy += 0.00013
		_, err = m.Check(DomainFlow, []float64{total, total / 3}, testWall, time.Duration(tick)*time.Second, false)
		require.NoError(t, err)
		_, err = m.Check(DomainPower, []float64{energy}, testWall, time.Duration(tick)*time.Second, false)
		require.NoError(t, err)
	}

	// crash, new process
	s2, err := store.OpenFile(root)
	require.NoError(t, err)
	m2 := New(s2, "fm-01", log)
	flow, ok := m2.Restore(DomainFlow, 2)
	require.True(t, ok)
	assert.InDelta(t, total, flow[0], Epsilon)
	power, ok := m2.Restore(DomainPower, 1)
	require.True(t, ok)
	assert.InDelta(t, energy, power[0], Epsilon)
	// restored value is baseline for drift
	assert.True(t, m2.Drift(DomainFlow, flow) == 0)

	foreign := New(s2, "fm-99", log)
	flow, ok = foreign.Restore(DomainFlow, 2)
	assert.False(t, ok)
	assert.Equal(t, []float64{0, 0}, flow)
}

func TestWriteFailureRetries(t *testing.T) {
	t.Parallel()
	s, err := store.OpenFile(t.TempDir())
	require.NoError(t, err)
	g := store.NewGate(nil, nil)
	m := New(g, "fm-01", log2.NewTest(t, log2.LDebug))
	_, err = m.Check(DomainPower, []float64{5}, testWall, 0, false)
	assert.Error(t, err)
	assert.InDelta(t, 5, m.Drift(DomainPower, []float64{5}), 1e-9)

	m.store = s
	wrote, err := m.Check(DomainPower, []float64{5}, testWall, 0, false)
	require.NoError(t, err)
	assert.True(t, wrote)
}
