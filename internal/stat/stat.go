// Package stat bundles agent metrics.
package stat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "flowtele_"

const (
	ResultOK   = "ok"
	ResultFail = "fail"
)

// Stat owns private registry so tests and multiple agents do not collide.
type Stat struct {
	Registry *prometheus.Registry

	Pulses           prometheus.Counter
	QueueDepth       prometheus.Gauge
	QueueDrops       prometheus.Counter
	Publish          *prometheus.CounterVec
	CheckpointWrites *prometheus.CounterVec
	MeterErrors      prometheus.Counter
	Rollovers        prometheus.Counter
	StorageFailures  *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	LogErrors        prometheus.Counter
}

func New() *Stat {
	self := &Stat{
		Registry: prometheus.NewRegistry(),
		Pulses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "pulses_total",
			Help: "Flow sensor pulses consumed by integrator",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_depth",
			Help: "Records waiting in offline queue",
		}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "queue_drops_total",
			Help: "Records rejected by full offline queue",
		}),
		Publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "publish_total",
			Help: "Telemetry publish attempts by result",
		}, []string{"result"}),
		CheckpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "checkpoint_writes_total",
			Help: "Checkpoint rows written by domain",
		}, []string{"domain"}),
		MeterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "meter_errors_total",
			Help: "Failed power meter reads",
		}),
		Rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "rollovers_total",
			Help: "Daily ledger rollovers",
		}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "storage_failures_total",
			Help: "Storage operations that marked storage unavailable",
		}, []string{"op"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "commands_total",
			Help: "Inbound commands by kind",
		}, []string{"kind"}),
		LogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "log_errors_total",
			Help: "Messages logged at error level",
		}),
	}
	self.Registry.MustRegister(
		self.Pulses,
		self.QueueDepth,
		self.QueueDrops,
		self.Publish,
		self.CheckpointWrites,
		self.MeterErrors,
		self.Rollovers,
		self.StorageFailures,
		self.Commands,
		self.LogErrors,
		collectors.NewGoCollector(),
	)
	return self
}

func (self *Stat) PublishResult(ok bool) {
	if ok {
		self.Publish.WithLabelValues(ResultOK).Inc()
	} else {
		self.Publish.WithLabelValues(ResultFail).Inc()
	}
}

func (self *Stat) Handler() http.Handler {
	return promhttp.HandlerFor(self.Registry, promhttp.HandlerOpts{})
}
