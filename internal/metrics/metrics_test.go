package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.PassCompleted("atem", time.Millisecond)
		c.BatchFlushed("atem", "action", OpUpdate, 3)
		c.AdapterError("atem", "action", OpUpdate)
		c.StaleResult("atem")
		c.Degraded("atem", 2)
		c.Exhausted("atem")
		c.SetRecords("atem", []string{"ready"}, nil)
		c.Forget("atem")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.BatchFlushed("atem", "action", OpUpdate, 3)
	c.BatchFlushed("atem", "action", OpUpdate, 50)
	c.BatchFlushed("atem", "feedback", OpUpgrade, 1)
	c.StaleResult("atem")
	c.Degraded("atem", 2)
	c.Degraded("atem", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.batches.WithLabelValues("atem", "action", OpUpdate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batches.WithLabelValues("atem", "feedback", OpUpgrade)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleResults.WithLabelValues("atem")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.degradations.WithLabelValues("atem")))

	expected := `
# HELP entsync_engine_upgrades_exhausted_total Entities whose upgrade retries were abandoned
# TYPE entsync_engine_upgrades_exhausted_total counter
entsync_engine_upgrades_exhausted_total{connection="atem"} 1
`
	c.Exhausted("atem")
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "entsync_engine_upgrades_exhausted_total"))
}

func TestSetRecordsResetsMissingStates(t *testing.T) {
	c := New(nil)
	states := []string{"unloaded", "ready"}

	c.SetRecords("atem", states, map[string]int{"unloaded": 4})
	assert.Equal(t, 4.0, testutil.ToFloat64(c.records.WithLabelValues("atem", "unloaded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.records.WithLabelValues("atem", "ready")))

	c.SetRecords("atem", states, map[string]int{"ready": 4})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.records.WithLabelValues("atem", "unloaded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.records.WithLabelValues("atem", "ready")))
}

func TestForgetDropsConnectionSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.PassCompleted("atem", time.Millisecond)
	c.PassCompleted("obs", time.Millisecond)

	c.Forget("atem")

	n, err := testutil.GatherAndCount(reg, "entsync_engine_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
