package state

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/flowtele/log2"
)

// ParseKeyValue reads flat `key=value` lines.
// Blank lines and lines starting with # are skipped. Later key wins.
func ParseKeyValue(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			return nil, errors.NotValidf("line=%d '%s' expected key=value", lineno, line)
		}
		key := strings.TrimSpace(line[:i])
		if key == "" {
			return nil, errors.NotValidf("line=%d empty key", lineno)
		}
		m[key] = strings.TrimSpace(line[i+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotate(err, "key=value read")
	}
	return m, nil
}

func (c *Config) applyDeviceFile(log *log2.Log, fs FullReader) error {
	path := fs.Normalize(c.Device.File)
	b, err := fs.ReadAll(path)
	if err != nil {
		return errors.Annotatef(err, "config device file=%s", path)
	}
	if b == nil {
		log.Debugf("config device file=%s not found, skip", path)
		return nil
	}
	m, err := ParseKeyValue(bytes.NewReader(b))
	if err != nil {
		return errors.Annotatef(err, "config device file=%s", path)
	}
	for k, v := range m {
		switch k {
		case "device_id":
			c.Device.ID = v
		case "location":
			c.Device.Location = v
		case "flow_pin":
			pin, err := strconv.Atoi(v)
			if err != nil || pin < 0 {
				return errors.NotValidf("config device file=%s flow_pin=%s", path, v)
			}
			c.Flow.GpioLine = pin
		default:
			log.Debugf("config device file=%s unknown key=%s", path, k)
		}
	}
	return nil
}
