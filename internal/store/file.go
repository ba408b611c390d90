package store

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/types"
)

const (
	fileDaily     = "daily.csv"
	fileIntervals = "intervals.csv"
	fileRecords   = "records.csv"
)

func checkpointFile(domain string) string { return "checkpoint_" + domain + ".csv" }

// FileStore keeps every log as CSV file under root.
// Checkpoint rows end with CRC16 column so torn trailing rows are skipped on load.
type FileStore struct {
	mu   sync.Mutex
	root string
}

var _ Store = &FileStore{}

func OpenFile(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.NotValidf("store root=empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Annotate(err, "store mkdir")
	}
	return &FileStore{root: root}, nil
}

func (self *FileStore) AppendDaily(r DailyRow) error {
	row := []string{r.Date, r.DeviceID, formatFixed3(r.Volume), r.Time.Format(types.TimestampLayout)}
	return errors.Annotate(self.appendRow(fileDaily, nil, row), "store daily")
}

func (self *FileStore) DailyHas(date, deviceID string) (bool, error) {
	found := false
	err := self.scan(fileDaily, func(row []string) {
		if len(row) >= 3 && row[0] == date && row[1] == deviceID {
			found = true
		}
	})
	return found, errors.Annotate(err, "store daily")
}

func (self *FileStore) AppendCheckpoint(r CheckpointRow) error {
	if len(r.Values) == 0 {
		return errors.NotValidf("checkpoint without values")
	}
	body := make([]string, 0, len(r.Values)+4)
	body = append(body, r.DeviceID, r.Domain)
	body = append(body, formatValues(r.Values)...)
	body = append(body, r.Time.Format(types.TimestampLayout), formatMillis(r.Uptime))
	row := append(body, rowCRC(body))
	return errors.Annotatef(self.appendRow(checkpointFile(r.Domain), nil, row), "store checkpoint domain=%s", r.Domain)
}

func (self *FileStore) LastCheckpoint(domain, deviceID string) (CheckpointRow, bool, error) {
	var last CheckpointRow
	found := false
	err := self.scan(checkpointFile(domain), func(row []string) {
		// device, domain, value+, timestamp, uptime, crc
		if len(row) < 6 {
			return
		}
		n := len(row)
		if rowCRC(row[:n-1]) != row[n-1] {
			return
		}
		if row[0] != deviceID || row[1] != domain {
			return
		}
		values, err := parseValues(row[2 : n-3])
		if err != nil {
			return
		}
		t, _ := parseTime(row[n-3])
		uptime, _ := parseMillis(row[n-2])
		last = CheckpointRow{DeviceID: row[0], Domain: row[1], Values: values, Time: t, Uptime: uptime}
		found = true
	})
	return last, found, errors.Annotatef(err, "store checkpoint domain=%s", domain)
}

func (self *FileStore) AppendIntervals(r IntervalRow) error {
	row := []string{r.DeviceID, formatMillis(r.SDWrite), formatMillis(r.SDRead), formatMillis(r.MQTT), r.Time.Format(types.TimestampLayout)}
	return errors.Annotate(self.appendRow(fileIntervals, nil, row), "store intervals")
}

func (self *FileStore) LastIntervals(deviceID string) (IntervalRow, bool, error) {
	var last IntervalRow
	found := false
	err := self.scan(fileIntervals, func(row []string) {
		if len(row) < 4 || row[0] != deviceID {
			return
		}
		var ds [3]time.Duration
		for i := range ds {
			d, err := parseMillis(row[1+i])
			if err != nil {
				return
			}
			ds[i] = d
		}
		last = IntervalRow{DeviceID: row[0], SDWrite: ds[0], SDRead: ds[1], MQTT: ds[2]}
		if len(row) >= 5 {
			last.Time, _ = parseTime(row[4])
		}
		found = true
	})
	return last, found, errors.Annotate(err, "store intervals")
}

func (self *FileStore) AppendRecord(r *types.Record) error {
	return errors.Annotate(self.appendRow(fileRecords, types.RecordHeader(), r.Row()), "store record")
}

func (self *FileStore) Probe() error { return probeDir(self.root) }

func (self *FileStore) Close() error { return nil }

// appendRow writes header into new file, and starts new line if previous write was torn.
func (self *FileStore) appendRow(name string, header []string, row []string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(self.root, name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if size := st.Size(); size == 0 {
		if header != nil {
			buf.WriteString(csvLine(header))
		}
	} else {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return err
		}
		if last[0] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString(csvLine(row))
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return f.Sync()
}

func csvLine(row []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(row)
	w.Flush()
	return buf.String()
}

// scan reads whole file, O(n) per call. Missing file is empty log.
func (self *FileStore) scan(name string, fun func(row []string)) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	f, err := os.Open(filepath.Join(self.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return err
		}
		fun(row)
	}
}
