package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("xtern", reg, nil)

	c.RecordRun("completed")
	c.RecordRun("completed")
	c.RecordRun("halted_empty")
	c.RecordStage("demand_analyst", "completed", 120*time.Millisecond)
	c.RecordToolCall("erp", "get_inventory", "ok", 40*time.Millisecond)
	c.RecordToolCall("erp", "get_inventory", "timeout", 30*time.Second)
	c.RecordRationaleFallback("container_optimizer")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("halted_empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageExecutionsTotal.WithLabelValues("demand_analyst", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("erp", "get_inventory", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rationaleFallbacks.WithLabelValues("container_optimizer")))
}

func TestCollector_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("xtern", reg, nil)
	c.RecordToolCall("po", "log_decision", "ok", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "xtern_tool_calls_total")
	assert.Contains(t, names, "xtern_tool_call_duration_seconds")
}
