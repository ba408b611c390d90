package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/log2"
)

type dailyMock struct {
	rows []store.DailyRow
	err  error
}

func (d *dailyMock) AppendDaily(r store.DailyRow) error {
	if d.err != nil {
		return d.err
	}
	d.rows = append(d.rows, r)
	return nil
}

func (d *dailyMock) DailyHas(date, deviceID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	for _, r := range d.rows {
		if r.Date == date && r.DeviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

func (d *dailyMock) countDate(date string) int {
	n := 0
	for _, r := range d.rows {
		if r.Date == date {
			n++
		}
	}
	return n
}

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWindowSavesOnce(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	daily := &dailyMock{}
	l := New("fm-01", 60*time.Second, daily, log)
	l.Tick(at("2024-05-01 23:00:00"), true)
	l.AddVolume(12.5)

	wall := at("2024-05-01 23:59:30")
	for i := 0; i < 25; i++ {
		l.Tick(wall.Add(time.Duration(i)*time.Second), true)
		assert.Equal(t, ResetPending, l.Snapshot().State)
	}
	require.Len(t, daily.rows, 1)
	assert.Equal(t, store.DailyRow{Date: "2024-05-01", DeviceID: "fm-01", Volume: 12.5, Time: wall}, daily.rows[0])
	assert.True(t, l.Snapshot().Saved)
	assert.Equal(t, 12.5, l.DailyVolume(), "window save must not alter daily volume")

	l.Tick(at("2024-05-02 00:00:01"), true)
	l.Tick(at("2024-05-02 00:00:02"), true)
	assert.Len(t, daily.rows, 1, "rollover after window save must not write again")
	s := l.Snapshot()
	assert.Equal(t, 0.0, s.DailyVolume)
	assert.Equal(t, 12.5, s.PreviousDayVolume)
	assert.Equal(t, "2024-05-02", s.CurrentDate)
	assert.Equal(t, "2024-05-02", s.LastResetDate)
	assert.Equal(t, Accumulating, s.State)
	assert.False(t, s.Saved)
}

func TestWindowLeaveWithoutDateChange(t *testing.T) {
	t.Parallel()
	daily := &dailyMock{}
	l := New("fm-01", 60*time.Second, daily, log2.NewTest(t, log2.LDebug))
	l.Tick(at("2024-05-01 23:59:10"), true)
	l.AddVolume(3)
	l.Tick(at("2024-05-01 23:59:20"), true)
	require.Equal(t, ResetPending, l.Snapshot().State)
	// clock corrected backward within same day
	l.Tick(at("2024-05-01 23:50:00"), true)
	assert.Equal(t, Accumulating, l.Snapshot().State)
	assert.Equal(t, 3.0, l.DailyVolume())
	assert.Len(t, daily.rows, 1)
}

func TestRolloverOncePerDate(t *testing.T) {
	t.Parallel()
	r, seed := helpers.RandUnix()
	t.Logf("seed=%d", seed)
	daily := &dailyMock{}
	l := New("fm-01", 0, daily, log2.NewTest(t, log2.LInfo))
	resets := 0
	l.OnRollover = func(string, float64) { resets++ }

	wall := at("2024-05-01 08:00:00")
	l.Tick(wall, true)
	dates := 1
	prevDate := wall.Format("2006-01-02")
	for i := 0; i < 2000; i++ {
		wall = wall.Add(time.Duration(r.Intn(3*3600)) * time.Second)
		l.AddVolume(float64(r.Intn(1000)) / 100)
		for repeat := 0; repeat < 1+r.Intn(3); repeat++ {
			l.Tick(wall, true)
		}
		if d := wall.Format("2006-01-02"); d != prevDate {
			dates++
			prevDate = d
		}
	}
	assert.Equal(t, dates-1, resets)
	seen := map[string]int{}
	for _, row := range daily.rows {
		seen[row.Date]++
		assert.Equal(t, 1, seen[row.Date], "date=%s persisted twice", row.Date)
	}
}

func TestBackwardDateIsMismatch(t *testing.T) {
	t.Parallel()
	daily := &dailyMock{}
	l := New("fm-01", 0, daily, log2.NewTest(t, log2.LDebug))
	l.Tick(at("2024-05-02 13:00:00"), true)
	l.AddVolume(1.25)
	l.Tick(at("2024-05-01 13:00:00"), true)
	assert.Equal(t, "2024-05-01", l.Snapshot().CurrentDate)
	assert.Equal(t, 0.0, l.DailyVolume())
	require.Len(t, daily.rows, 1)
	assert.Equal(t, "2024-05-02", daily.rows[0].Date)
}

func TestMissedRolloverRecovery(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		meta      Meta
		wall      string
		logged    []store.DailyRow
		expectRow bool
		expectVol float64
	}{
		{"restart-across-midnight",
			Meta{CurrentDate: "2024-04-30", LastResetDate: "2024-04-30"},
			"2024-05-01 08:00:00", nil, true, 0},
		{"already-saved-in-window",
			Meta{CurrentDate: "2024-04-30", LastResetDate: "2024-04-30", Saved: true, State: ResetPending},
			"2024-05-01 07:00:00", nil, false, 0},
		{"today-entry-exists",
			Meta{CurrentDate: "2024-05-01", LastResetDate: "2024-04-30"},
			"2024-05-01 08:00:00", []store.DailyRow{{Date: "2024-05-01", DeviceID: "fm-01", Volume: 1}}, false, 3.2},
		{"same-day-restart",
			Meta{CurrentDate: "2024-05-01", LastResetDate: "2024-04-30"},
			"2024-05-01 09:00:00", nil, false, 3.2},
		{"reset-already-done",
			Meta{CurrentDate: "2024-05-01", LastResetDate: "2024-05-01"},
			"2024-05-01 06:00:00", nil, false, 3.2},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			daily := &dailyMock{rows: append([]store.DailyRow(nil), c.logged...)}
			l := New("fm-01", 60*time.Second, daily, log2.NewTest(t, log2.LDebug))
			l.meta = c.meta
			l.RestoreDaily(3.2)
			l.Tick(at(c.wall), true)
			assert.Equal(t, c.expectVol, l.DailyVolume())
			assert.Equal(t, "2024-05-01", l.Snapshot().CurrentDate)
			if c.expectRow {
				require.Len(t, daily.rows, len(c.logged)+1)
				row := daily.rows[len(daily.rows)-1]
				assert.Equal(t, "2024-04-30", row.Date)
				assert.Equal(t, 3.2, row.Volume)
				assert.Equal(t, "2024-05-01", l.Snapshot().LastResetDate)
			} else {
				assert.Len(t, daily.rows, len(c.logged))
			}
		})
	}
}

func TestRecoveryOnlyOnce(t *testing.T) {
	t.Parallel()
	daily := &dailyMock{}
	l := New("fm-01", 0, daily, log2.NewTest(t, log2.LDebug))
	l.Tick(time.Time{}, false)
	assert.Equal(t, "", l.Snapshot().CurrentDate, "invalid wall clock is ignored")
	l.Tick(at("2024-05-01 08:00:00"), true)
	l.AddVolume(2)
	l.Tick(at("2024-05-01 08:00:01"), true)
	assert.Equal(t, 2.0, l.DailyVolume())
}

func TestManualReset(t *testing.T) {
	t.Parallel()
	daily := &dailyMock{}
	l := New("fm-01", 0, daily, log2.NewTest(t, log2.LDebug))
	l.Tick(at("2024-05-01 10:00:00"), true)
	l.AddVolume(4.5)
	l.Reset(at("2024-05-01 10:05:00"), true)
	assert.Equal(t, 0.0, l.DailyVolume())
	assert.Equal(t, 4.5, l.Snapshot().PreviousDayVolume)
	assert.Equal(t, 1, daily.countDate("2024-05-01"))

	// reset of empty day writes nothing
	l.Reset(at("2024-05-01 10:06:00"), true)
	assert.Equal(t, 1, daily.countDate("2024-05-01"))
}

func TestStorageDownDegrades(t *testing.T) {
	t.Parallel()
	daily := &dailyMock{err: fmt.Errorf("no card")}
	l := New("fm-01", 60*time.Second, daily, log2.NewTest(t, log2.LDebug))
	l.Tick(at("2024-05-01 23:59:30"), true)
	l.AddVolume(1)
	l.Tick(at("2024-05-01 23:59:31"), true)
	assert.False(t, l.Snapshot().Saved)
	l.Tick(at("2024-05-02 00:00:01"), true)
	assert.Equal(t, 0.0, l.DailyVolume())
	assert.Equal(t, 1.0, l.Snapshot().PreviousDayVolume)
}

func TestPersistMeta(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	log := log2.NewTest(t, log2.LDebug)
	daily := &dailyMock{}
	l := New("fm-01", 60*time.Second, daily, log)
	require.NoError(t, l.BindPersist(root, true))
	l.Tick(at("2024-05-01 23:59:30"), true)
	l.AddVolume(7)
	l.Tick(at("2024-05-02 00:00:30"), true)

	l2 := New("fm-01", 60*time.Second, daily, log)
	require.NoError(t, l2.BindPersist(root, true))
	assert.Equal(t, l.Snapshot().Meta, l2.Snapshot().Meta)
	assert.Equal(t, 7.0, l2.Snapshot().PreviousDayVolume)
}

func TestMetaBinary(t *testing.T) {
	t.Parallel()
	m := Meta{CurrentDate: "2024-05-01", LastResetDate: "2024-04-30", Saved: true, PreviousDayVolume: 12.5, State: ResetPending}
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	var m2 Meta
	require.NoError(t, m2.UnmarshalBinary(b))
	assert.Equal(t, m, m2)
	assert.Error(t, m2.UnmarshalBinary([]byte{0x0a, 0x10, 'x'}))
}
