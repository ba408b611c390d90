package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/flowtele/cmd/flowtele/console"
	"github.com/temoto/flowtele/cmd/flowtele/run"
	"github.com/temoto/flowtele/cmd/flowtele/subcmd"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
}

func main() {
	flaggy := flag.NewFlagSet("flowtele", flag.ContinueOnError)
	flaggy.Usage = func() {
		fmt.Fprintf(flaggy.Output(), "Usage: flowtele [option...] command\n\nCommands:\n")
		subcmd.Usage(flaggy.Output(), modules)
		fmt.Fprintf(flaggy.Output(), "\nOptions:\n")
		flaggy.PrintDefaults()
	}
	configPath := flaggy.String("config", "flowtele.hcl", "")
	if err := flaggy.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}
	command := flaggy.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flaggy.Usage()
		log.Fatal(err)
	}

	if mod.Service && subcmd.SdNotify(log, "start") {
		// under systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *configPath)
	log.Debugf("config device=%s persist=%s driver=%s", config.Device.ID, config.Persist.Root, config.Persist.Driver)

	if err := mod.Main(context.Background(), config, log); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
