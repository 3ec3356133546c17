package auth

import (
	"github.com/and161185/toollink/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session lifecycle events. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Logins      *prometheus.CounterVec
	Refreshes   *prometheus.CounterVec
	Reconciles  *prometheus.CounterVec
	Transitions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toollink", Subsystem: "auth", Name: "logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toollink", Subsystem: "auth", Name: "refreshes_total",
			Help: "User and token refreshes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toollink", Subsystem: "auth", Name: "reconciles_total",
			Help: "Storage reconciliations by result.",
		}, []string{"result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toollink", Subsystem: "auth", Name: "transitions_total",
			Help: "State transitions by target state.",
		}, []string{"to"}),
	}
	if reg != nil {
		reg.MustRegister(m.Logins, m.Refreshes, m.Reconciles, m.Transitions)
	}
	return m
}

func (m *Metrics) login(t model.ErrorType) {
	if m == nil {
		return
	}
	outcome := string(t)
	if t == model.ErrorNone {
		outcome = "success"
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(kind, outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) reconcile(result string) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(result).Inc()
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to.String()).Inc()
}
