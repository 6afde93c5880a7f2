package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics tracks the event fan-out: stream publication, journal writes
// and websocket subscribers.
type EventMetrics struct {
	emitted         *prometheus.CounterVec
	journalFailures prometheus.Counter
	subscribers     prometheus.Gauge
}

var (
	eventsOnce     sync.Once
	eventsRegistry *EventMetrics
)

// Events returns the singleton event metrics registry.
func Events() *EventMetrics {
	eventsOnce.Do(func() {
		eventsRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stake",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of staking events published, by type.",
			}, []string{"type"}),
			journalFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stake",
				Subsystem: "events",
				Name:      "journal_failures_total",
				Help:      "Count of events that could not be written to the durable journal.",
			}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stake",
				Subsystem: "events",
				Name:      "ws_subscribers",
				Help:      "Number of connected websocket event subscribers.",
			}),
		}
		prometheus.MustRegister(
			eventsRegistry.emitted,
			eventsRegistry.journalFailures,
			eventsRegistry.subscribers,
		)
	})
	return eventsRegistry
}

func (m *EventMetrics) RecordEmitted(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

func (m *EventMetrics) RecordJournalFailure() {
	if m == nil {
		return
	}
	m.journalFailures.Inc()
}

func (m *EventMetrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *EventMetrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
