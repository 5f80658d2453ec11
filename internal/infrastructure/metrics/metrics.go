// Package metrics exposes engine outcomes as Prometheus series.
package metrics

import (
	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/domain/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Total number of committed workflow transitions broken down by trigger and states.",
	}, []string{"trigger", "from", "to"})

	transitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend",
		Subsystem: "workflow",
		Name:      "transition_failures_total",
		Help:      "Total number of refused or failed transitions broken down by trigger and reason.",
	}, []string{"trigger", "reason"})

	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend",
		Subsystem: "ledger",
		Name:      "reservations_total",
		Help:      "Total number of reservation attempts and releases broken down by outcome.",
	}, []string{"outcome"})

	cascadeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend",
		Subsystem: "cascade",
		Name:      "cancels_total",
		Help:      "Total number of cancels that met live downstream artifacts, by mode and outcome.",
	}, []string{"mode", "outcome"})

	budgetUtilisation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spend",
		Subsystem: "ledger",
		Name:      "budget_utilisation_ratio",
		Help:      "Reserved amount divided by budget total per key (1 means fully reserved).",
	}, []string{"org_unit", "account", "fiscal_period"})
)

// Recorder implements port.MetricsRecorder over the package collectors
type Recorder struct{}

// NewRecorder returns a recorder writing to the default registry
func NewRecorder() *Recorder {
	return &Recorder{}
}

var _ port.MetricsRecorder = (*Recorder)(nil)

func (Recorder) TransitionRecorded(trigger, from, to string) {
	transitionsTotal.WithLabelValues(trigger, from, to).Inc()
}

func (Recorder) TransitionFailed(trigger, reason string) {
	if reason == "" {
		reason = "other"
	}
	transitionFailures.WithLabelValues(trigger, reason).Inc()
}

func (Recorder) ReservationRecorded(outcome string) {
	reservationsTotal.WithLabelValues(outcome).Inc()
}

func (Recorder) CascadeRecorded(mode, outcome string) {
	cascadeTotal.WithLabelValues(mode, outcome).Inc()
}

func (Recorder) BudgetUtilisation(key entity.BudgetKey, ratio float64) {
	budgetUtilisation.WithLabelValues(key.OrgUnit, key.Account, key.FiscalPeriod).Set(ratio)
}
