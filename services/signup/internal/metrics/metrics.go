package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the registration workflow: outcomes per operation, code
// deliveries and the duration of the final commit.
type Metrics struct {
	Operations     *prometheus.CounterVec
	CodeDeliveries *prometheus.CounterVec
	Registrations  prometheus.Counter
	CommitDuration prometheus.Histogram
}

// New registers the workflow metrics on reg. Pass prometheus.DefaultRegisterer
// in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "luxsuv_signup_operations_total",
			Help: "Registration workflow operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		CodeDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "luxsuv_signup_code_deliveries_total",
			Help: "Verification code deliveries by result",
		}, []string{"result"}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "luxsuv_signup_registrations_total",
			Help: "Accounts committed",
		}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "luxsuv_signup_commit_duration_seconds",
			Help:    "Duration of the credential submission including hashing and the account transaction",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// ObserveOperation counts one workflow call. outcome is an outcome kind or
// "error" for infrastructure faults.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.CodeDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementRegistrations() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

// ObserveCommit records the duration since start.
func (m *Metrics) ObserveCommit(start time.Time) {
	if m == nil {
		return
	}
	m.CommitDuration.Observe(time.Since(start).Seconds())
}
