package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	assert.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "test_action_duration_seconds",
			Help: "Test histogram vec",
		},
		[]string{"action"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "create_cluster")
	timer.ObserveDurationVec(vec, "create_cluster")
	timer.ObserveDuration(vec.WithLabelValues("add_seed_node"))

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestActionCounters(t *testing.T) {
	before := testutil.ToFloat64(ClusterActionsTotal.WithLabelValues("create_cluster", "success"))
	ClusterActionsTotal.WithLabelValues("create_cluster", "success").Inc()
	after := testutil.ToFloat64(ClusterActionsTotal.WithLabelValues("create_cluster", "success"))

	assert.Equal(t, before+1, after)
}
