package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.ObserveTick(20 * time.Millisecond)
	r.ObserveTick(30 * time.Millisecond)
	r.RecordError("computation", "expectancy")
	r.RecordEvent("SCORE_UPDATE", true)
	r.RecordEvent("SCORE_UPDATE", false)
	r.SetScore("SPY", 0.42)
	r.SetAllocation("SPY", 2500)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("computation", "expectancy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.eventsTotal.WithLabelValues("SCORE_UPDATE", "error")))
	assert.Equal(t, 0.42, testutil.ToFloat64(r.score.WithLabelValues("SPY")))
	assert.Equal(t, 2500.0, testutil.ToFloat64(r.allocation.WithLabelValues("SPY")))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	NewWithRegistry(prometheus.NewRegistry())
	NewWithRegistry(prometheus.NewRegistry())
}
