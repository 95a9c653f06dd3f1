package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "bzsignalr"

type Config struct {
	Namespace string

	// Defaults to prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// Metrics counts connection and transport activity. A nil *Metrics records nothing.
type Metrics struct {
	messagesReceived      *prometheus.CounterVec
	transportErrors       *prometheus.CounterVec
	transportStateChanges *prometheus.CounterVec
	reconnects            prometheus.Counter
}

func New(config Config) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = defaultNamespace
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "connection",
			Name:      "messages_received_total",
			Help:      "Total number of server messages received, by message type",
		}, []string{"type"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Total number of errors reported by transports",
		}, []string{"transport"}),
		transportStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "transport",
			Name:      "state_changes_total",
			Help:      "Total number of transport state transitions, by new state",
		}, []string{"transport", "state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.messagesReceived,
		m.transportErrors,
		m.transportStateChanges,
		m.reconnects,
	} {
		if err := config.Registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) MessageReceived(messageType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) TransportError(transport string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(transport).Inc()
}

func (m *Metrics) TransportStateChanged(transport string, state string) {
	if m == nil {
		return
	}
	m.transportStateChanges.WithLabelValues(transport, state).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
