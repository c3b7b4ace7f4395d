// Package metrics exposes prometheus instrumentation for the operation
// lifecycle: a counter per terminal outcome and an in-flight gauge, fed by
// subscribing to an event stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opstream/opstream/internal/bus"
	"github.com/opstream/opstream/internal/target"
)

// Collector owns the operation metrics.
type Collector struct {
	operations *prometheus.CounterVec
	inflight   prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opstream",
			Name:      "operations_total",
			Help:      "Operations by name and terminal outcome.",
		}, []string{"operation", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opstream",
			Name:      "operations_inflight",
			Help:      "Operations currently in flight.",
		}),
	}
	for _, col := range []prometheus.Collector{c.operations, c.inflight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Watch subscribes the collector to an event emitter until the returned stop
// function is called.
func (c *Collector) Watch(e *bus.Emitter[*target.Event]) (stop func()) {
	return e.Subscribe(c.observe)
}

func (c *Collector) observe(ev *target.Event) {
	if !ev.Complete {
		c.inflight.Inc()
		return
	}
	c.inflight.Dec()
	c.operations.WithLabelValues(ev.Operation, outcome(ev)).Inc()
}

func outcome(ev *target.Event) string {
	switch {
	case ev.Cancel:
		return "cancelled"
	case ev.Err != nil:
		return "error"
	default:
		return "success"
	}
}
