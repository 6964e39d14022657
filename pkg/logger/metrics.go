// pkg/logger/metrics.go

package logger

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the pipeline did. A nil *Metrics is valid and counts
// nothing.
type Metrics struct {
	Records      *prometheus.CounterVec
	WriteErrors  *prometheus.CounterVec
	SignFailures prometheus.Counter
	Faults       *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "log_records_total",
			Help:      "Log records written, by stream and level.",
		}, []string{"stream", "level"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "log_write_errors_total",
			Help:      "Log records lost to sink errors, by stream.",
		}, []string{"stream"}),
		SignFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "log_sign_failures_total",
			Help:      "JSON records written unsigned because signing failed.",
		}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "faults_total",
			Help:      "Uncaught faults captured, by context.",
		}, []string{"context"}),
	}
	if reg != nil {
		reg.MustRegister(m.Records, m.WriteErrors, m.SignFailures, m.Faults)
	}
	return m
}

func (m *Metrics) written(stream string, level record.Level) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(stream, level.String()).Inc()
}

func (m *Metrics) writeFailed(stream string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) signFailed() {
	if m == nil {
		return
	}
	m.SignFailures.Inc()
}

// ObserveFault counts f under its context kind: main, worker or task.
func (m *Metrics) ObserveFault(f *record.Fault) {
	if m == nil || f == nil {
		return
	}
	ctx, _, _ := strings.Cut(f.Context, ":")
	if ctx == "" {
		ctx = "main"
	}
	m.Faults.WithLabelValues(ctx).Inc()
}
