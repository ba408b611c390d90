// Package subcmd dispatches flowtele sub-commands.
package subcmd

import (
	"context"
	"fmt"
	"io"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/log2"
)

type Mod struct {
	Name string
	Desc string
	// Service runs under supervisor, log flags follow systemd detection
	Service bool
	Main    func(context.Context, *state.Config, *log2.Log) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, errors.NotValidf("command empty")
	}
	for i := range modules {
		if modules[i].Name == command {
			return &modules[i], nil
		}
	}
	return nil, errors.NotFoundf("command=%s", command)
}

// Usage lists modules one per line.
func Usage(w io.Writer, modules []Mod) {
	for _, m := range modules {
		fmt.Fprintf(w, "  %-10s %s\n", m.Name, m.Desc)
	}
}

// SdNotify returns true under systemd.
func SdNotify(log *log2.Log, s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify state=%s err=%v", s, err)
	}
	return ok
}
