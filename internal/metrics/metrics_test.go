package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		NotificationsTotal,
		DuplicatesSkipped,
		PollFailuresTotal,
		PollCycleDuration,
		SendDuration,
		ConfigSavesTotal,
		CircuitBreakerState,
		CircuitBreakerStateChanges,
		OverlayConnectsTotal,
		LifecycleState,
		HostAlive,
	}
	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc)
	}
}

func TestNotificationCounterLabels(t *testing.T) {
	c := NotificationsTotal.WithLabelValues("suppressed", "blocked")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
