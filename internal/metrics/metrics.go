// Package metrics exposes prometheus collectors for access decisions and the
// license refresh loop. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modgate"

type Metrics struct {
	decisions     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	tolerant      prometheus.Gauge
	daysRemaining prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Module access decisions by outcome reason.",
		}, []string{"reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_refresh_total",
			Help:      "License refreshes by trigger and result.",
		}, []string{"trigger", "result"}),
		tolerant: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tolerant_mode",
			Help:      "1 while the license grace period is active.",
		}),
		daysRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "license_days_remaining",
			Help:      "Days until the license expires, 0 when expired or unlimited.",
		}),
	}
	reg.MustRegister(m.decisions, m.refreshes, m.tolerant, m.daysRemaining)
	return m
}

// Decision counts an access decision. An empty reason means granted.
func (m *Metrics) Decision(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "granted"
	}
	m.decisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) Refresh(trigger string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) Tolerant(active bool) {
	if m == nil {
		return
	}
	if active {
		m.tolerant.Set(1)
		return
	}
	m.tolerant.Set(0)
}

func (m *Metrics) DaysRemaining(days int) {
	if m == nil {
		return
	}
	m.daysRemaining.Set(float64(days))
}
