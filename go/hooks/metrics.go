package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tbhooks"

type metrics struct {
	merged         prometheus.Counter
	splices        prometheus.Counter
	invalidations  *prometheus.CounterVec
	retranslations prometheus.Counter
	dispatches     prometheus.Counter
	calls          prometheus.Counter
	removed        prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	return &metrics{
		merged:  counter("hooks_merged_total", "Hooks moved from the pending queue into the registry."),
		splices: counter("splices_total", "Dispatch calls spliced into translated blocks."),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalidations_total",
			Help:      "Translated blocks invalidated because of new hooks.",
		}, []string{"reason"}),
		retranslations: counter("retranslations_total", "Cached blocks refused by the retranslation gate."),
		dispatches:     counter("dispatches_total", "Dispatcher invocations."),
		calls:          counter("callbacks_total", "Hook callbacks invoked."),
		removed:        counter("hooks_removed_total", "Hooks removed from the registry."),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.merged, m.splices, m.invalidations, m.retranslations,
		m.dispatches, m.calls, m.removed,
	}
}
