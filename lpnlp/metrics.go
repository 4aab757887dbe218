package lpnlp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jjhbw/GoMINLP/model"
)

const metricsNamespace = "gominlp"

// Metrics holds the Prometheus collectors of the callback. A nil *Metrics records
// nothing.
type Metrics struct {
	// CallbacksTotal counts incumbent callbacks.
	CallbacksTotal prometheus.Counter

	// SubproblemsTotal counts subproblem solves by outcome.
	// Labels: outcome (optimal, infeasible, iteration limit)
	SubproblemsTotal *prometheus.CounterVec

	// CutsTotal counts injected cuts by provenance.
	// Labels: provenance (oa, concave, convex)
	CutsTotal *prometheus.CounterVec

	// RelaxationFailuresTotal counts constraints the relaxation evaluator skipped.
	RelaxationFailuresTotal prometheus.Counter

	// UpperBound and LowerBound track the bounds of the running search.
	UpperBound prometheus.Gauge
	LowerBound prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "callbacks_total",
			Help:      "Total incumbent callbacks",
		}),
		SubproblemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subproblems_total",
			Help:      "Total NLP subproblem solves by outcome",
		}, []string{"outcome"}),
		CutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cuts_total",
			Help:      "Total cuts added to the search by provenance",
		}, []string{"provenance"}),
		RelaxationFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relaxation_failures_total",
			Help:      "Total constraints skipped because their relaxation failed",
		}),
		UpperBound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "upper_bound",
			Help:      "Current upper bound",
		}),
		LowerBound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "lower_bound",
			Help:      "Current lower bound",
		}),
	}
}

func (m *Metrics) callback() {
	if m == nil {
		return
	}
	m.CallbacksTotal.Inc()
}

func (m *Metrics) subproblem(o Outcome) {
	if m == nil {
		return
	}
	m.SubproblemsTotal.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) cut(p model.Provenance) {
	if m == nil {
		return
	}
	m.CutsTotal.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) relaxationFailed() {
	if m == nil {
		return
	}
	m.RelaxationFailuresTotal.Inc()
}

func (m *Metrics) bounds(s *SolveState) {
	if m == nil {
		return
	}
	m.UpperBound.Set(s.UB)
	m.LowerBound.Set(s.LB)
}
