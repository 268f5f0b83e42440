package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/event"
)

func TestCollector_ObserveDispatch_IncrementsProcessedCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	e := event.NewQuitEvent(1, event.PriorityInternal)
	c.ObserveDispatch(e, 5*time.Millisecond)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "synapse_events_processed_total" {
			found = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "processed_total metric not registered")
}

func TestCollector_ObserveOrphan(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveOrphan()

	var got *dto.Metric
	mf, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range mf {
		if f.GetName() == "synapse_coroutines_orphaned_total" {
			got = f.Metric[0]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, float64(1), got.GetCounter().GetValue())
}

func TestCollector_SetQueueSize(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetQueueSize(42)

	mf, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range mf {
		if f.GetName() == "synapse_events_queue_size" {
			assert.Equal(t, float64(42), f.Metric[0].GetGauge().GetValue())
		}
	}
}
