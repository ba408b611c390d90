// Package console is interactive dry run of agent: no hardware, no storage, no network.
// Pulses are injected by hand and simulated time advances one second per tick.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/cmd/flowtele/subcmd"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/helpers/cli"
	"github.com/temoto/flowtele/internal/agent"
	"github.com/temoto/flowtele/internal/command"
	"github.com/temoto/flowtele/internal/pulse"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/internal/types"
	"github.com/temoto/flowtele/log2"
)

var Mod = subcmd.Mod{Name: "console", Desc: "interactive dry run, no hardware or network", Main: Main}

const tickStep = time.Second

var suggests = []prompt.Suggest{
	{Text: "pulse", Description: "pulse N - inject N sensor pulses"},
	{Text: "tick", Description: "tick [N] - advance one second and run due tasks, N times"},
	{Text: "show", Description: "print status snapshot"},
	{Text: "status", Description: "enqueue telemetry record"},
	{Text: "reset_volume", Description: "zero total volume"},
	{Text: "reset_energy", Description: "zero meter energy"},
	{Text: "reset_daily", Description: "manual daily reset"},
	{Text: "checkpoint", Description: "force checkpoint of both domains"},
	{Text: "toggle_display", Description: "switch display page"},
	{Text: "interval:", Description: "interval:<duration> - publish interval"},
	{Text: "set_interval:", Description: "set_interval:sd_write=<d>,sd_read=<d>,mqtt=<d>"},
	{Text: "calibration:", Description: "calibration:<pulses per L/min>"},
}

func Main(ctx context.Context, config *state.Config, log *log2.Log) error {
	c, err := newConsole(config, log, os.Stdout)
	if err != nil {
		return errors.Annotate(err, "console")
	}
	c.agent.Boot(ctx)
	exec := func(line string) { c.exec(ctx, line) }
	err = cli.MainLoop("flowtele", exec, complete, func() { _ = c.agent.Stop() })
	return helpers.FoldErrors([]error{err, c.agent.Stop()})
}

type console struct {
	agent   *agent.Agent
	clock   *types.ManualClock
	counter *pulse.Counter
	out     io.Writer
}

func newConsole(config *state.Config, log *log2.Log, out io.Writer) (*console, error) {
	opt := agent.OptionsFromConfig(config)
	opt.PersistRoot = ""
	clock := types.NewManualClock(time.Now())
	opt.Clock = clock
	opt.Counter = new(pulse.Counter)
	ag, err := agent.New(opt, log)
	if err != nil {
		return nil, err
	}
	return &console{agent: ag, clock: clock, counter: opt.Counter, out: out}, nil
}

func (self *console) exec(ctx context.Context, line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case "pulse":
		n, err := argCount(parts)
		if err != nil {
			fmt.Fprintf(self.out, "error: %v\n", err)
			return
		}
		for i := 0; i < n; i++ {
			self.counter.Inc()
		}
		fmt.Fprintf(self.out, "pending=%d\n", self.counter.Peek())

	case "tick":
		n, err := argCount(parts)
		if err != nil {
			fmt.Fprintf(self.out, "error: %v\n", err)
			return
		}
		for i := 0; i < n; i++ {
			self.clock.Advance(tickStep)
			self.agent.Tick(ctx)
		}
		fmt.Fprintf(self.out, "uptime=%s queue=%d\n", self.clock.Uptime(), self.agent.QueueLen())

	case "show":
		b, err := json.MarshalIndent(self.agent.Status(), "", "  ")
		if err != nil {
			fmt.Fprintf(self.out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(self.out, "%s\n", b)

	default:
		cmd := self.agent.Apply(ctx, command.ChannelDevice, line)
		fmt.Fprintf(self.out, "command=%s\n", cmd.Kind)
	}
}

// argCount parses optional positive count, default 1.
func argCount(parts []string) (int, error) {
	if len(parts) < 2 {
		return 1, nil
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return 0, errors.NotValidf("count=%s", parts[1])
	}
	return n, nil
}

func complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}
