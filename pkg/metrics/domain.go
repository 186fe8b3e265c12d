package metrics

import "github.com/prometheus/client_golang/prometheus"

// ImportMetrics tracks bulk import throughput.
type ImportMetrics struct {
	rows *prometheus.CounterVec
	runs *prometheus.CounterVec
}

func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	if reg == nil {
		return &ImportMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Imported rows by source and outcome.",
	}, []string{"source", "outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_runs_total",
		Help: "Finished import runs by source and final status.",
	}, []string{"source", "status"})
	reg.MustRegister(rows, runs)
	return &ImportMetrics{rows: rows, runs: runs}
}

func (m *ImportMetrics) AddRows(source string, processed, failed int) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(source), "processed").Add(float64(processed))
	m.rows.WithLabelValues(normalizeLabel(source), "failed").Add(float64(failed))
}

func (m *ImportMetrics) IncRun(source, status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(source), normalizeLabel(status)).Inc()
}

// StripeMetrics counts retried Stripe calls per operation.
type StripeMetrics struct {
	retries *prometheus.CounterVec
}

func NewStripeMetrics(reg prometheus.Registerer) *StripeMetrics {
	if reg == nil {
		return &StripeMetrics{}
	}
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_retries_total",
		Help: "Stripe API calls retried after a transient failure.",
	}, []string{"operation"})
	reg.MustRegister(retries)
	return &StripeMetrics{retries: retries}
}

// IncRetry matches the pkg/stripe retry observer signature.
func (m *StripeMetrics) IncRetry(operation string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(operation)).Inc()
}
