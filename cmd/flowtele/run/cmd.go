package run

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/flowtele/cmd/flowtele/subcmd"
	"github.com/temoto/flowtele/hardware/flowsensor"
	"github.com/temoto/flowtele/hardware/pzem"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/internal/agent"
	"github.com/temoto/flowtele/internal/diag"
	"github.com/temoto/flowtele/internal/pulse"
	"github.com/temoto/flowtele/internal/stat"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/internal/store"
	"github.com/temoto/flowtele/internal/tele"
	"github.com/temoto/flowtele/log2"
	"github.com/temoto/spq"
)

const stopTimeout = 5 * time.Second

var Mod = subcmd.Mod{Name: "run", Desc: "device agent", Service: true, Main: Main}

// Main wires hardware, storage and transport to agent and runs tick loop until signal.
// Only config errors are fatal, absent hardware or storage degrade.
func Main(ctx context.Context, config *state.Config, log *log2.Log) error {
	a := alive.NewAlive()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-a.StopChan()
		cancel()
	}()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("signal=%v stopping", sig)
		a.Stop()
	}()

	st := stat.New()
	opt := agent.OptionsFromConfig(config)
	opt.Counter = new(pulse.Counter)
	opt.Stat = st

	root := config.Persist.Root
	if root != "" {
		backend, err := store.Open(config.Persist.Driver, filepath.Join(root, "store"))
		if err != nil {
			log.Errorf("store open driver=%s err=%v", config.Persist.Driver, err)
		} else {
			opt.Store = backend
		}
	}

	sensor, err := flowsensor.Open(flowsensor.Config{
		Chip: config.Flow.GpioChip,
		Line: uint32(config.Flow.GpioLine),
	}, opt.Counter, log)
	if err != nil {
		log.Errorf("flow sensor unavailable, volume will not grow err=%v", err)
	} else {
		sensor.Start()
	}

	var meter *pzem.Meter
	if config.Power.Enable {
		meter = pzem.New(pzem.Config{
			Device:   config.Power.Device,
			BaudRate: config.Power.Baud,
			SlaveID:  byte(config.Power.SlaveID),
			Timeout:  config.PowerTimeout(),
		})
		opt.Meter = meter
	}

	inboxPath := spq.OnlyForTesting
	if root != "" {
		inboxPath = filepath.Join(root, "inbox")
	}
	inbox, err := tele.OpenInbox(inboxPath, log)
	if err != nil {
		return errors.Annotate(err, "run")
	}
	opt.Inbox = inbox

	if config.Tele.Enable {
		teleConfig := tele.Config{
			Enabled:        true,
			Broker:         config.Tele.MqttBroker,
			Password:       config.Tele.MqttPassword,
			DeviceID:       config.Device.ID,
			TopicPrefix:    config.Tele.TopicPrefix,
			KeepAlive:      config.Keepalive(),
			PublishTimeout: config.PublishTimeout(),
			LogDebug:       config.Tele.LogDebug,
		}
		if root != "" {
			teleConfig.StorePath = filepath.Join(root, "mqtt")
		}
		// tele gets log clone before SetErrorFunc, so transport errors do not recurse
		transport, err := tele.NewMqtt(teleConfig, log.Clone(log2.LInfo), inbox.Push)
		if err != nil {
			return errors.Annotate(err, "run tele")
		}
		opt.Transport = transport
	}

	var diagServer *diag.Server
	if config.Diag.Listen != "" {
		diagServer = diag.New(config.Diag.Listen, st.Handler(), log)
		if err := diagServer.Start(); err != nil {
			return errors.Annotate(err, "run")
		}
		opt.Observer = diagServer
	}

	log.SetErrorFunc(func(error) { st.LogErrors.Inc() })
	ag, err := agent.New(opt, log)
	if err != nil {
		return errors.Annotate(err, "run")
	}
	ag.Boot(ctx)
	subcmd.SdNotify(log, daemon.SdNotifyReady)
	log.Infof("flowtele device=%s running", config.Device.ID)

	ag.Loop(ctx, config.TickInterval())

	subcmd.SdNotify(log, daemon.SdNotifyStopping)
	errs := make([]error, 0, 8)
	errs = append(errs, ag.Stop())
	if opt.Transport != nil {
		opt.Transport.Close()
	}
	errs = append(errs, inbox.Close())
	if sensor != nil {
		errs = append(errs, sensor.Stop())
	}
	if meter != nil {
		errs = append(errs, meter.Close())
	}
	if diagServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		errs = append(errs, diagServer.Stop(stopCtx))
		stopCancel()
	}
	return helpers.FoldErrors(errs)
}
