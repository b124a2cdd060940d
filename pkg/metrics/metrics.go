// Package metrics turns protocol log events into Prometheus metrics.
//
// A Collector is a log.Logger: combine it with other loggers through
// log.NewMultiLogger and pass the result as the connection's
// ProtocolLogger.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chanwire/chanwire-go/pkg/log"
	"github.com/chanwire/chanwire-go/pkg/wire"
)

// Namespace prefixes every metric name.
const Namespace = "chanwire"

// Collector counts frames, state changes, heartbeats and errors.
type Collector struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	responses    *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	heartbeats   prometheus.Counter
	errors       *prometheus.CounterVec
	open         prometheus.Gauge
	subscribed   prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Decoded frames by direction, kind and type namespace.",
		}, []string{"direction", "kind", "namespace"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Raw frame bytes by direction.",
		}, []string{"direction"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "wire",
			Name:      "responses_total",
			Help:      "Received responses and progress updates by state.",
		}, []string{"state"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "channel",
			Name:      "state_changes_total",
			Help:      "Connection and subscription state changes.",
		}, []string{"entity", "state"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "channel",
			Name:      "heartbeats_total",
			Help:      "Heartbeat callbacks fired.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Errors by protocol layer.",
		}, []string{"layer"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "connection",
			Name:      "open",
			Help:      "1 while the connection is open, otherwise 0.",
		}),
		subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "channel",
			Name:      "subscribed",
			Help:      "Channels currently subscribed.",
		}),
	}

	c.registry.MustRegister(
		c.frames,
		c.bytes,
		c.responses,
		c.stateChanges,
		c.heartbeats,
		c.errors,
		c.open,
		c.subscribed,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Log implements log.Logger.
func (c *Collector) Log(ev log.Event) {
	dir := strings.ToLower(ev.Direction.String())

	switch {
	case ev.Frame != nil:
		c.bytes.WithLabelValues(dir).Add(float64(ev.Frame.Size))

	case ev.Message != nil:
		m := ev.Message
		c.frames.WithLabelValues(dir, strings.ToLower(m.Kind.String()), wire.Namespace(m.Type)).Inc()
		if ev.Direction == log.DirectionIn && m.State != "" {
			c.responses.WithLabelValues(strings.ToLower(wire.State(m.State).String())).Inc()
		}

	case ev.StateChange != nil:
		sc := ev.StateChange
		c.stateChanges.WithLabelValues(strings.ToLower(sc.Entity.String()), strings.ToLower(sc.NewState)).Inc()
		switch sc.Entity {
		case log.StateEntityConnection:
			if sc.NewState == "OPEN" {
				c.open.Set(1)
			} else {
				c.open.Set(0)
			}
		case log.StateEntitySubscription:
			if sc.NewState == "SUBSCRIBED" {
				c.subscribed.Inc()
			} else {
				c.subscribed.Dec()
			}
		}

	case ev.Heartbeat != nil:
		c.heartbeats.Inc()

	case ev.Error != nil:
		c.errors.WithLabelValues(strings.ToLower(ev.Error.Layer.String())).Inc()
	}
}

// Compile-time interface satisfaction check.
var _ log.Logger = (*Collector)(nil)
