package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskmarket"

// Result labels.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultError     = "error"
)

// Metrics exports per-instruction counters and latencies.
type Metrics struct {
	instructions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics registers the instruction metrics on reg, or the default
// registerer when reg is nil. Registering twice reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_total",
			Help:      "Instructions processed, by outcome.",
		}, []string{"instruction", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instruction_duration_seconds",
			Help:      "Time spent executing one transaction, locks included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instruction"}),
	}
	if err := reg.Register(m.instructions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register instruction counter: %w", err)
		}
		m.instructions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register instruction histogram: %w", err)
		}
		m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

// Observe records one transaction. A nil Metrics records nothing.
func (m *Metrics) Observe(instruction, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(instruction, result).Inc()
	m.duration.WithLabelValues(instruction).Observe(d.Seconds())
}
