// Package store keeps append-only device logs: daily volume, checkpoints,
// interval config and telemetry records. Last matching row wins on load.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/sigurn/crc16"
	"github.com/temoto/flowtele/internal/types"
)

var ErrUnavailable = errors.New("storage unavailable")

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

type DailyRow struct {
	Date     string
	DeviceID string
	Volume   float64
	Time     time.Time
}

type CheckpointRow struct {
	DeviceID string
	Domain   string
	Values   []float64
	Time     time.Time
	Uptime   time.Duration
}

type IntervalRow struct {
	DeviceID string
	SDWrite  time.Duration
	SDRead   time.Duration
	MQTT     time.Duration
	Time     time.Time
}

type Store interface {
	AppendDaily(DailyRow) error
	// DailyHas reports whether daily log contains row for date and device.
	DailyHas(date, deviceID string) (bool, error)
	AppendCheckpoint(CheckpointRow) error
	// LastCheckpoint returns last intact row of domain written by device.
	LastCheckpoint(domain, deviceID string) (CheckpointRow, bool, error)
	AppendIntervals(IntervalRow) error
	LastIntervals(deviceID string) (IntervalRow, bool, error)
	AppendRecord(*types.Record) error
	// Probe checks storage is writable and has free space.
	Probe() error
	Close() error
}

func Open(driver, root string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return OpenFile(root)
	case DriverSQLite:
		return OpenSQLite(root)
	}
	return nil, errors.NotValidf("store driver=%s", driver)
}

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func rowCRC(body []string) string {
	return fmt.Sprintf("%04x", crc16.Checksum([]byte(strings.Join(body, ",")), crcTable))
}

func formatValues(vs []float64) []string {
	ss := make([]string, len(vs))
	for i, v := range vs {
		ss[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ss
}

func parseValues(ss []string) ([]float64, error) {
	vs := make([]float64, len(ss))
	for i, s := range ss {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Annotatef(err, "value[%d]", i)
		}
		vs[i] = v
	}
	return vs, nil
}

func formatFixed3(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func formatMillis(d time.Duration) string { return strconv.FormatInt(d.Milliseconds(), 10) }

func parseMillis(s string) (time.Duration, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(types.TimestampLayout, s, time.Local)
}
