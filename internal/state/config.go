package state

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Device struct {
		ID       string `hcl:"id"`
		Location string `hcl:"location"`
		// flat key=value file written by provisioning, overrides values above
		File string `hcl:"file"`
	} `hcl:"device"`

	Persist struct {
		Root   string `hcl:"root"`
		Driver string `hcl:"driver"`
	} `hcl:"persist"`

	Flow struct {
		GpioChip    string  `hcl:"gpio_chip"`
		GpioLine    int     `hcl:"gpio_line"`
		Calibration float64 `hcl:"calibration"`
	} `hcl:"flow"`

	Power struct {
		Enable    bool   `hcl:"enable"`
		Device    string `hcl:"device"`
		Baud      int    `hcl:"baud"`
		SlaveID   int    `hcl:"slave_id"`
		TimeoutMs int    `hcl:"timeout_ms"`
	} `hcl:"power"`

	Tele struct {
		Enable           bool   `hcl:"enable"`
		MqttBroker       string `hcl:"mqtt_broker"`
		MqttPassword     string `hcl:"mqtt_password"` //secret
		KeepaliveSec     int    `hcl:"keepalive_sec"`
		PublishTimeoutMs int    `hcl:"publish_timeout_ms"`
		TopicPrefix      string `hcl:"topic_prefix"`
		QueueCapacity    int    `hcl:"queue_capacity"`
		LogDebug         bool   `hcl:"log_debug"`
	} `hcl:"tele"`

	Schedule struct {
		TickMs             int `hcl:"tick_ms"`
		FlowSec            int `hcl:"flow_sec"`
		PowerSec           int `hcl:"power_sec"`
		PowerRetrySec      int `hcl:"power_retry_sec"`
		LedgerSec          int `hcl:"ledger_sec"`
		PublishSec         int `hcl:"publish_sec"`
		LogSec             int `hcl:"log_sec"`
		ProbeSec           int `hcl:"probe_sec"`
		CheckpointFlowSec  int `hcl:"checkpoint_flow_sec"`
		CheckpointPowerSec int `hcl:"checkpoint_power_sec"`
		DrainSec           int `hcl:"drain_sec"`
	} `hcl:"schedule"`

	Ledger struct {
		WindowSec int `hcl:"window_sec"`
	} `hcl:"ledger"`

	Diag struct {
		Listen string `hcl:"listen"`
	} `hcl:"diag"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

const DefaultQueueCapacity = 50

func (c *Config) TickInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.Schedule.TickMs, 100*time.Millisecond)
}
func (c *Config) PowerTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Power.TimeoutMs, 500*time.Millisecond)
}
func (c *Config) PublishTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Tele.PublishTimeoutMs, 500*time.Millisecond)
}
func (c *Config) Keepalive() time.Duration {
	return helpers.IntSecondDefault(c.Tele.KeepaliveSec, 60*time.Second)
}
func (c *Config) LedgerWindow() time.Duration {
	return helpers.IntSecondDefault(c.Ledger.WindowSec, 60*time.Second)
}

func (c *Config) QueueCapacity() int {
	if c.Tele.QueueCapacity <= 0 {
		return DefaultQueueCapacity
	}
	return c.Tele.QueueCapacity
}

// Intervals maps scheduler task name to configured interval with defaults.
func (c *Config) Intervals() map[string]time.Duration {
	s := &c.Schedule
	return map[string]time.Duration{
		types.TaskFlow:            helpers.IntSecondDefault(s.FlowSec, 1*time.Second),
		types.TaskPower:           helpers.IntSecondDefault(s.PowerSec, 2*time.Second),
		types.TaskPowerRetry:      helpers.IntSecondDefault(s.PowerRetrySec, 30*time.Second),
		types.TaskLedger:          helpers.IntSecondDefault(s.LedgerSec, 1*time.Second),
		types.TaskPublish:         helpers.IntSecondDefault(s.PublishSec, 10*time.Second),
		types.TaskLog:             helpers.IntSecondDefault(s.LogSec, 60*time.Second),
		types.TaskProbe:           helpers.IntSecondDefault(s.ProbeSec, 300*time.Second),
		types.TaskCheckpointFlow:  helpers.IntSecondDefault(s.CheckpointFlowSec, 60*time.Second),
		types.TaskCheckpointPower: helpers.IntSecondDefault(s.CheckpointPowerSec, 60*time.Second),
		types.TaskDrain:           helpers.IntSecondDefault(s.DrainSec, 1*time.Second),
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Device.ID == "" {
		errs = append(errs, errors.NotValidf("config device.id empty"))
	}
	switch c.Persist.Driver {
	case "":
		c.Persist.Driver = store.DriverFile
	case store.DriverFile, store.DriverSQLite:
	default:
		errs = append(errs, errors.NotValidf("config persist.driver=%s", c.Persist.Driver))
	}
	if c.Tele.Enable && c.Tele.MqttBroker == "" {
		errs = append(errs, errors.NotValidf("config tele.mqtt_broker empty"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges HCL sources in order, then overlays device key=value file.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) != 0 {
		return c, helpers.FoldErrors(errs)
	}
	if c.Device.File != "" {
		if err := c.applyDeviceFile(log, fs); err != nil {
			return c, err
		}
	}
	return c, c.validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
