package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

var testTime = time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)

func openTest(t *testing.T, driver string) Store {
	s, err := Open(driver, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBackends(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{DriverFile, DriverSQLite} {
		driver := driver
		t.Run(driver+"/daily", func(t *testing.T) {
			s := openTest(t, driver)
			found, err := s.DailyHas("2024-05-01", "fm-01")
			require.NoError(t, err)
			assert.False(t, found)
			require.NoError(t, s.AppendDaily(DailyRow{Date: "2024-05-01", DeviceID: "fm-01", Volume: 12.5, Time: testTime}))
			found, err = s.DailyHas("2024-05-01", "fm-01")
			require.NoError(t, err)
			assert.True(t, found)
			found, err = s.DailyHas("2024-05-01", "fm-02")
			require.NoError(t, err)
			assert.False(t, found)
		})
		t.Run(driver+"/checkpoint", func(t *testing.T) {
			s := openTest(t, driver)
			_, found, err := s.LastCheckpoint("flow", "fm-01")
			require.NoError(t, err)
			assert.False(t, found)
			require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "flow", Values: []float64{10.5, 2.25}, Time: testTime, Uptime: 5 * time.Second}))
			require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "flow", Values: []float64{11.0004, 2.75}, Time: testTime, Uptime: 65 * time.Second}))
			require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "other", Domain: "flow", Values: []float64{99, 99}, Time: testTime}))
			require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "power", Values: []float64{3.5}, Time: testTime}))
			r, found, err := s.LastCheckpoint("flow", "fm-01")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []float64{11.0004, 2.75}, r.Values)
			assert.Equal(t, 65*time.Second, r.Uptime)
			assert.True(t, testTime.Equal(r.Time))
			r, found, err = s.LastCheckpoint("power", "fm-01")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []float64{3.5}, r.Values)
			assert.Error(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "power"}))
		})
		t.Run(driver+"/intervals", func(t *testing.T) {
			s := openTest(t, driver)
			require.NoError(t, s.AppendIntervals(IntervalRow{DeviceID: "fm-01", SDWrite: time.Minute, SDRead: 5 * time.Minute, MQTT: 10 * time.Second, Time: testTime}))
			require.NoError(t, s.AppendIntervals(IntervalRow{DeviceID: "fm-01", SDWrite: 2 * time.Minute, SDRead: 5 * time.Minute, MQTT: 30 * time.Second, Time: testTime}))
			r, found, err := s.LastIntervals("fm-01")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 2*time.Minute, r.SDWrite)
			assert.Equal(t, 30*time.Second, r.MQTT)
			_, found, err = s.LastIntervals("fm-02")
			require.NoError(t, err)
			assert.False(t, found)
		})
		t.Run(driver+"/record", func(t *testing.T) {
			s := openTest(t, driver)
			rec := &types.Record{DeviceID: "fm-01", Time: testTime, Status: types.StatusOnline}
			require.NoError(t, s.AppendRecord(rec))
			require.NoError(t, s.AppendRecord(rec))
			require.NoError(t, s.Probe())
		})
	}
}

func TestSQLiteReopen(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s1, err := OpenSQLite(root)
	require.NoError(t, err)
	require.NoError(t, s1.AppendDaily(DailyRow{Date: "2024-05-01", DeviceID: "fm-01", Volume: 1, Time: testTime}))
	require.NoError(t, s1.Close())

	// migrations already applied, rows kept
	s2, err := OpenSQLite(root)
	require.NoError(t, err)
	defer s2.Close()
	found, err := s2.DailyHas("2024-05-01", "fm-01")
	require.NoError(t, err)
	assert.True(t, found)
	var n int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('daily','checkpoint','intervals','record')`).Scan(&n))
	assert.Equal(t, 4, n)
}

func TestFileTornCheckpoint(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := OpenFile(root)
	require.NoError(t, err)
	require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "flow", Values: []float64{7.125, 1}, Time: testTime, Uptime: time.Second}))

	// power loss in the middle of next row
	path := filepath.Join(root, checkpointFile("flow"))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("fm-01,flow,8.5,1,2024-05-01T1")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, found, err := s.LastCheckpoint("flow", "fm-01")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{7.125, 1}, r.Values)

	// next append starts on fresh line
	require.NoError(t, s.AppendCheckpoint(CheckpointRow{DeviceID: "fm-01", Domain: "flow", Values: []float64{9, 2}, Time: testTime, Uptime: 2 * time.Second}))
	r, found, err = s.LastCheckpoint("flow", "fm-01")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float64{9, 2}, r.Values)

	// corrupted value with intact shape fails crc
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("fm-01,flow,100,2,2024-05-01T10:30:00,3000,0000\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	r, _, err = s.LastCheckpoint("flow", "fm-01")
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 2}, r.Values)
}

func TestFileRecordHeader(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := OpenFile(root)
	require.NoError(t, err)
	rec := &types.Record{DeviceID: "fm-01", Location: "pump, house", Time: testTime, FlowRate: 1.5}
	require.NoError(t, s.AppendRecord(rec))
	require.NoError(t, s.AppendRecord(rec))
	b, err := os.ReadFile(filepath.Join(root, fileRecords))
	require.NoError(t, err)
	lines := splitLines(string(b))
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "device_id,location,timestamp,flow_rate")
	assert.Contains(t, lines[1], `fm-01,"pump, house",2024-05-01T10:30:00,1.500,`)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

type failingStore struct {
	Store
	err     error
	probeOK bool
}

func (f *failingStore) AppendDaily(DailyRow) error { return f.err }
func (f *failingStore) Probe() error {
	if f.probeOK {
		return nil
	}
	return f.err
}

func TestGate(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	backend := &failingStore{probeOK: true, err: fmt.Errorf("EIO")}
	failures := 0
	g := NewGate(backend, log)
	g.OnFailure = func(string) { failures++ }
	require.True(t, g.Available())

	assert.Error(t, g.AppendDaily(DailyRow{}))
	assert.False(t, g.Available())
	assert.Equal(t, 1, failures)
	// no backend access while unavailable
	assert.Equal(t, ErrUnavailable, g.AppendDaily(DailyRow{}))
	assert.Equal(t, 1, failures)

	backend.probeOK = false
	assert.Error(t, g.Reprobe())
	assert.False(t, g.Available())

	backend.probeOK = true
	assert.NoError(t, g.Reprobe())
	assert.True(t, g.Available())

	absent := NewGate(nil, log)
	assert.False(t, absent.Available())
	assert.Equal(t, ErrUnavailable, absent.Reprobe())
	_, _, err := absent.LastCheckpoint("flow", "fm-01")
	assert.Equal(t, ErrUnavailable, err)
}
