package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/juju/errors"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reading is one calibrated power meter sample.
type Reading struct {
	Voltage     float64 `json:"voltage"`   // V
	Current     float64 `json:"current"`   // A
	Power       float64 `json:"power"`     // W
	Energy      float64 `json:"energy"`    // kWh
	Frequency   float64 `json:"frequency"` // Hz
	PowerFactor float64 `json:"power_factor"`
}

// Record is one telemetry reading delivered to collector and written to primary log.
// Field set and decimal precision are part of collector contract.
type Record struct {
	DeviceID      string
	Location      string
	Time          time.Time
	FlowRate      float64
	TotalVolume   float64
	DailyVolume   float64
	Power         Reading
	LastResetDate string
	ResetPending  bool
	Status        string
}

type recordField struct {
	name  string
	value string
	quote bool
}

func fixed(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }

func (r *Record) fields() []recordField {
	return []recordField{
		{"device_id", r.DeviceID, true},
		{"location", r.Location, true},
		{"timestamp", r.Time.Format(TimestampLayout), true},
		{"flow_rate", fixed(r.FlowRate, 3), false},
		{"total_volume", fixed(r.TotalVolume, 3), false},
		{"daily_volume", fixed(r.DailyVolume, 3), false},
		{"voltage", fixed(r.Power.Voltage, 2), false},
		{"current", fixed(r.Power.Current, 3), false},
		{"power", fixed(r.Power.Power, 2), false},
		{"energy", fixed(r.Power.Energy, 4), false},
		{"frequency", fixed(r.Power.Frequency, 2), false},
		{"power_factor", fixed(r.Power.PowerFactor, 3), false},
		{"last_reset_date", r.LastResetDate, true},
		{"reset_pending", strconv.FormatBool(r.ResetPending), false},
		{"status", r.Status, true},
	}
}

// RecordHeader lists column names in the order of Row().
func RecordHeader() []string {
	var r Record
	fs := r.fields()
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.name
	}
	return names
}

// Row formats record as text columns for append-only logs.
func (r *Record) Row() []string {
	fs := r.fields()
	row := make([]string, len(fs))
	for i, f := range fs {
		row[i] = f.value
	}
	return row
}

// MarshalJSON keeps fixed decimal precision, encoding/json would print shortest float form.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields() {
		if i != 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(f.name))
		buf.WriteByte(':')
		if f.quote {
			b, err := json.Marshal(f.value)
			if err != nil {
				return nil, errors.Annotatef(err, "record field=%s", f.name)
			}
			buf.Write(b)
		} else {
			buf.WriteString(f.value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
