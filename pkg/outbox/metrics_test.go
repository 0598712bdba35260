package outbox

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics_NeverPanics(t *testing.T) {
	var m MetricsSink = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.BatchPublished("orders", "kafka", 3, time.Millisecond)
		m.BatchFailed("orders", "kafka", 1)
		m.PairFailed("orders", "kafka")
	})
}

func TestPrometheusMetrics_RecordsPublishedCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.BatchPublished("orders", "kafka", 4, 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "dcb_outbox_events_published_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Len(t, found.Metric, 1)
	assert.Equal(t, float64(4), found.Metric[0].GetCounter().GetValue())
}

func TestPrometheusMetrics_RecordsPairFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.PairFailed("orders", "kafka")
	m.PairFailed("orders", "kafka")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "dcb_outbox_pairs_failed_total" {
			found = f
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, float64(2), found.Metric[0].GetCounter().GetValue())
}
