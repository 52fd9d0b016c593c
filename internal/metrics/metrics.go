// Package metrics holds the prometheus collectors for the telemetry core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "energymon"

// Metrics bundles all collectors so components share one registration.
type Metrics struct {
	ReadingsReceived  *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	SinkErrors        prometheus.Counter
	Evictions         prometheus.Counter
	RegisteredDevices prometheus.Gauge
}

// New creates the collector set. Register attaches it to a registry.
func New() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "readings_received_total",
				Help:      "Decoded telemetry readings applied per device",
			},
			[]string{"device"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "decode_failures_total",
				Help:      "Messages dropped because they could not be decoded",
			},
			[]string{"device"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Upstream subscription reconnect attempts per device",
			},
			[]string{"device"},
		),
		SinkErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Failed measurement writes to the persistence sink",
			},
		),
		Evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "evictions_total",
				Help:      "Device entries removed by the idle reaper",
			},
		),
		RegisteredDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "registered_devices",
				Help:      "Devices currently registered",
			},
		),
	}
}

// Register registers every collector with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ReadingsReceived,
		m.DecodeFailures,
		m.Reconnects,
		m.SinkErrors,
		m.Evictions,
		m.RegisteredDevices,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
