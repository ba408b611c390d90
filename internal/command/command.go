// Package command turns inbound text payloads into tagged commands.
// Malformed input yields Unknown or zero argument, never an error.
package command

import (
	"math"
	"strconv"
	"strings"
	"time"
)

type Kind uint8

const (
	Unknown Kind = iota
	ResetVolume
	ResetEnergy
	ResetDaily
	Status
	Checkpoint
	ToggleDisplay
	Reboot
	SetPublishInterval
	SetIntervals
	SetCalibration
)

var kindNames = [...]string{
	Unknown:            "unknown",
	ResetVolume:        "reset_volume",
	ResetEnergy:        "reset_energy",
	ResetDaily:         "reset_daily",
	Status:             "status",
	Checkpoint:         "checkpoint",
	ToggleDisplay:      "toggle_display",
	Reboot:             "reboot",
	SetPublishInterval: "interval",
	SetIntervals:       "set_interval",
	SetCalibration:     "calibration",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

type Channel uint8

const (
	ChannelDevice Channel = iota + 1
	ChannelBroadcast
)

func (c Channel) String() string {
	switch c {
	case ChannelDevice:
		return "device"
	case ChannelBroadcast:
		return "broadcast"
	}
	return "invalid"
}

// Interval keys of set_interval command.
const (
	KeySDWrite = "sd_write"
	KeySDRead  = "sd_read"
	KeyMQTT    = "mqtt"
)

type IntervalArg struct {
	Key      string
	Duration time.Duration
}

type Command struct {
	Kind        Kind
	Raw         string
	Interval    time.Duration
	Intervals   []IntervalArg
	Calibration float64
}

var literals = map[string]Kind{
	"reset_volume":   ResetVolume,
	"reset_energy":   ResetEnergy,
	"reset_daily":    ResetDaily,
	"status":         Status,
	"checkpoint":     Checkpoint,
	"toggle_display": ToggleDisplay,
	"reboot":         Reboot,
}

func Parse(payload string) Command {
	s := strings.ToLower(strings.TrimSpace(payload))
	cmd := Command{Raw: s}
	if k, ok := literals[s]; ok {
		cmd.Kind = k
		return cmd
	}
	prefix, arg, ok := strings.Cut(s, ":")
	if !ok {
		return cmd
	}
	switch prefix {
	case "interval":
		cmd.Kind = SetPublishInterval
		cmd.Interval = ParseDuration(arg)
	case "set_interval":
		cmd.Kind = SetIntervals
		cmd.Intervals = parseIntervalArgs(arg)
	case "calibration":
		cmd.Kind = SetCalibration
		cmd.Calibration, _ = strconv.ParseFloat(strings.TrimSpace(arg), 64)
	}
	return cmd
}

// sd_write=<d>,sd_read=<d>,mqtt=<d> in any order, unknown keys dropped.
func parseIntervalArgs(s string) []IntervalArg {
	var args []IntervalArg
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		switch k {
		case KeySDWrite, KeySDRead, KeyMQTT:
			args = append(args, IntervalArg{Key: k, Duration: ParseDuration(v)})
		}
	}
	return args
}

// ParseDuration accepts digits with optional unit: ms, s/sec (default), m/min, h/hour.
// Anything else yields 0.
func ParseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	n, err := strconv.ParseInt(s[:i], 10, 32)
	if err != nil {
		return 0
	}
	var unit time.Duration
	switch strings.TrimSpace(s[i:]) {
	case "ms":
		unit = time.Millisecond
	case "", "s", "sec":
		unit = time.Second
	case "m", "min":
		unit = time.Minute
	case "h", "hour":
		unit = time.Hour
	default:
		return 0
	}
	if n > int64(math.MaxInt64/unit) {
		return 0
	}
	return time.Duration(n) * unit
}
