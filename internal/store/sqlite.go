package store

import (
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/types"

	_ "modernc.org/sqlite"
)

const sqliteFile = "flowtele.db"

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationDir = "migrations"

// SQLiteStore keeps logs as tables of one database file under root.
type SQLiteStore struct {
	db   *sql.DB
	root string
}

var _ Store = &SQLiteStore{}

func OpenSQLite(root string) (*SQLiteStore, error) {
	if root == "" {
		return nil, errors.NotValidf("store root=empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Annotate(err, "store mkdir")
	}
	db, err := sql.Open("sqlite", filepath.Join(root, sqliteFile))
	if err != nil {
		return nil, errors.Annotate(err, "store sqlite open")
	}
	// create file before migrations
	if _, err = db.Exec("SELECT 1;"); err != nil {
		_ = db.Close()
		return nil, errors.Annotate(err, "store sqlite create")
	}
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, migrationDir)
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, root: root}, nil
}

func (self *SQLiteStore) AppendDaily(r DailyRow) error {
	_, err := self.db.Exec(`INSERT INTO daily (date, device_id, volume, ts) VALUES (?, ?, ?, ?)`,
		r.Date, r.DeviceID, formatFixed3(r.Volume), r.Time.Format(types.TimestampLayout))
	return errors.Annotate(err, "store daily")
}

func (self *SQLiteStore) DailyHas(date, deviceID string) (bool, error) {
	var n int
	err := self.db.QueryRow(`SELECT COUNT(*) FROM daily WHERE date = ? AND device_id = ?`, date, deviceID).Scan(&n)
	if err != nil {
		return false, errors.Annotate(err, "store daily")
	}
	return n > 0, nil
}

func (self *SQLiteStore) AppendCheckpoint(r CheckpointRow) error {
	if len(r.Values) == 0 {
		return errors.NotValidf("checkpoint without values")
	}
	_, err := self.db.Exec(`INSERT INTO checkpoint (device_id, domain, vals, ts, uptime_ms) VALUES (?, ?, ?, ?, ?)`,
		r.DeviceID, r.Domain, strings.Join(formatValues(r.Values), ";"), r.Time.Format(types.TimestampLayout), r.Uptime.Milliseconds())
	return errors.Annotatef(err, "store checkpoint domain=%s", r.Domain)
}

func (self *SQLiteStore) LastCheckpoint(domain, deviceID string) (CheckpointRow, bool, error) {
	var vals, ts string
	var uptimeMs int64
	err := self.db.QueryRow(`SELECT vals, ts, uptime_ms FROM checkpoint WHERE domain = ? AND device_id = ? ORDER BY id DESC LIMIT 1`,
		domain, deviceID).Scan(&vals, &ts, &uptimeMs)
	switch {
	case err == sql.ErrNoRows:
		return CheckpointRow{}, false, nil
	case err != nil:
		return CheckpointRow{}, false, errors.Annotatef(err, "store checkpoint domain=%s", domain)
	}
	values, err := parseValues(strings.Split(vals, ";"))
	if err != nil {
		return CheckpointRow{}, false, errors.Annotatef(err, "store checkpoint domain=%s", domain)
	}
	t, _ := parseTime(ts)
	return CheckpointRow{
		DeviceID: deviceID,
		Domain:   domain,
		Values:   values,
		Time:     t,
		Uptime:   time.Duration(uptimeMs) * time.Millisecond,
	}, true, nil
}

func (self *SQLiteStore) AppendIntervals(r IntervalRow) error {
	_, err := self.db.Exec(`INSERT INTO intervals (device_id, sd_write_ms, sd_read_ms, mqtt_ms, ts) VALUES (?, ?, ?, ?, ?)`,
		r.DeviceID, r.SDWrite.Milliseconds(), r.SDRead.Milliseconds(), r.MQTT.Milliseconds(), r.Time.Format(types.TimestampLayout))
	return errors.Annotate(err, "store intervals")
}

func (self *SQLiteStore) LastIntervals(deviceID string) (IntervalRow, bool, error) {
	var w, r, m int64
	var ts string
	err := self.db.QueryRow(`SELECT sd_write_ms, sd_read_ms, mqtt_ms, ts FROM intervals WHERE device_id = ? ORDER BY id DESC LIMIT 1`,
		deviceID).Scan(&w, &r, &m, &ts)
	switch {
	case err == sql.ErrNoRows:
		return IntervalRow{}, false, nil
	case err != nil:
		return IntervalRow{}, false, errors.Annotate(err, "store intervals")
	}
	t, _ := parseTime(ts)
	return IntervalRow{
		DeviceID: deviceID,
		SDWrite:  time.Duration(w) * time.Millisecond,
		SDRead:   time.Duration(r) * time.Millisecond,
		MQTT:     time.Duration(m) * time.Millisecond,
		Time:     t,
	}, true, nil
}

func (self *SQLiteStore) AppendRecord(rec *types.Record) error {
	b, err := rec.MarshalJSON()
	if err != nil {
		return errors.Annotate(err, "store record")
	}
	_, err = self.db.Exec(`INSERT INTO record (device_id, ts, payload) VALUES (?, ?, ?)`,
		rec.DeviceID, rec.Time.Format(types.TimestampLayout), string(b))
	return errors.Annotate(err, "store record")
}

func (self *SQLiteStore) Probe() error {
	if err := self.db.Ping(); err != nil {
		return errors.Annotate(err, "store sqlite ping")
	}
	return probeDir(self.root)
}

func (self *SQLiteStore) Close() error {
	return errors.Annotate(self.db.Close(), "store sqlite close")
}
