package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.Observe("stake_on_task", ResultSucceeded, 10*time.Millisecond)
	m.Observe("stake_on_task", ResultFailed, time.Millisecond)
	m.Observe("stake_on_task", ResultFailed, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.instructions.WithLabelValues("stake_on_task", ResultSucceeded)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.instructions.WithLabelValues("stake_on_task", ResultFailed)))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	second.Observe("burn_task_nft", ResultSucceeded, 0)
	require.Equal(t, 1.0, testutil.ToFloat64(first.instructions.WithLabelValues("burn_task_nft", ResultSucceeded)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() { m.Observe("x", ResultError, time.Second) })
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	log.Info("hidden")
	log.Warn("shown", "instruction", "complete_task")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.Contains(out, `"instruction":"complete_task"`), out)
}
