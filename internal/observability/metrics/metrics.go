package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics exposes counters/histograms for capture and EMR id
// reconciliation.
type ReconcileMetrics struct {
	submissionsTotal *prometheus.CounterVec
	candidatesTotal  *prometheus.CounterVec
	bindingsTotal    *prometheus.CounterVec
	evictionsTotal   prometheus.Counter
	persistErrors    *prometheus.CounterVec
	pending          prometheus.Gauge
	bindLatency      *prometheus.HistogramVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patient_capture",
			Subsystem: "capture",
			Name:      "submissions_total",
			Help:      "Add Patient submissions seen by the detector",
		}, []string{"status"}),
		candidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patient_capture",
			Subsystem: "reconcile",
			Name:      "candidates_total",
			Help:      "EMR id candidates reported by watchers",
		}, []string{"source"}),
		bindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patient_capture",
			Subsystem: "reconcile",
			Name:      "bindings_total",
			Help:      "EMR ids bound to pending submissions, by match strategy",
		}, []string{"strategy"}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patient_capture",
			Subsystem: "reconcile",
			Name:      "evictions_total",
			Help:      "Pending submissions dropped without an EMR id",
		}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patient_capture",
			Subsystem: "store",
			Name:      "persist_errors_total",
			Help:      "Failed writes per sink",
		}, []string{"sink"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patient_capture",
			Subsystem: "reconcile",
			Name:      "pending",
			Help:      "Submissions waiting for an EMR id",
		}),
		bindLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patient_capture",
			Subsystem: "reconcile",
			Name:      "bind_latency_seconds",
			Help:      "Time from submission to EMR id binding",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 300},
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.submissionsTotal, m.candidatesTotal, m.bindingsTotal, m.evictionsTotal, m.persistErrors, m.pending, m.bindLatency)
	return m
}

func (m *ReconcileMetrics) ObserveSubmission(status string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(status).Inc()
}

func (m *ReconcileMetrics) ObserveCandidate(source string) {
	if m == nil {
		return
	}
	m.candidatesTotal.WithLabelValues(source).Inc()
}

func (m *ReconcileMetrics) ObserveBinding(strategy, source string, seconds float64) {
	if m == nil {
		return
	}
	m.bindingsTotal.WithLabelValues(strategy).Inc()
	m.bindLatency.WithLabelValues(source).Observe(seconds)
}

func (m *ReconcileMetrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

func (m *ReconcileMetrics) ObservePersistError(sink string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(sink).Inc()
}

func (m *ReconcileMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
