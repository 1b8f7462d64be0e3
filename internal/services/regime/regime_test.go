package regime

import (
	"errors"
	"math"
	"testing"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes []float64, tf models.Timeframe) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1000, Timestamp: t0.Add(time.Duration(i) * time.Hour), Timeframe: tf}
	}
	return out
}

func uptrend(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 * math.Exp(0.01*float64(i))
	}
	return out
}

func alternating(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = lo
		} else {
			out[i] = hi
		}
	}
	return out
}

func TestClassifier(t *testing.T) {
	th := config.DefaultEngineConfig().Thresholds
	c := NewClassifier(th)

	t.Run("steady uptrend is momentum", func(t *testing.T) {
		sig, err := c.Classify(barsFromCloses(uptrend(60), models.TFD1), models.TFD1, t0)
		require.NoError(t, err)
		assert.Equal(t, models.RegimeMomentum, sig.Type)
		assert.Greater(t, sig.Strength, 0.0)
		assert.InDelta(t, 1.0, sig.Metrics.TrendStrength, 1e-6)
		assert.Equal(t, 1.0, sig.Metrics.VolatilityRatio)
		assert.Equal(t, models.TFD1, sig.Timeframe)
	})

	t.Run("steady downtrend has negative strength", func(t *testing.T) {
		closes := uptrend(60)
		for i, j := 0, len(closes)-1; i < j; i, j = i+1, j-1 {
			closes[i], closes[j] = closes[j], closes[i]
		}
		sig, err := c.Classify(barsFromCloses(closes, models.TFD1), models.TFD1, t0)
		require.NoError(t, err)
		assert.Equal(t, models.RegimeMomentum, sig.Type)
		assert.Less(t, sig.Strength, 0.0)
	})

	t.Run("oscillation is mean reversion", func(t *testing.T) {
		sig, err := c.Classify(barsFromCloses(alternating(60, 100, 101), models.TFH1), models.TFH1, t0)
		require.NoError(t, err)
		assert.Equal(t, models.RegimeMeanReversion, sig.Type)
		assert.Greater(t, sig.Metrics.MeanReversionSpeed, 0.9)
	})

	t.Run("volatility burst is transition", func(t *testing.T) {
		closes := append(alternating(40, 100, 100.1), alternating(10, 90, 110)...)
		sig, err := c.Classify(barsFromCloses(closes, models.TFH4), models.TFH4, t0)
		require.NoError(t, err)
		assert.Equal(t, models.RegimeTransition, sig.Type)
		assert.GreaterOrEqual(t, sig.Metrics.VolatilityRatio, th.TransitionVolRatio)
	})

	t.Run("too few bars", func(t *testing.T) {
		_, err := c.Classify(barsFromCloses(uptrend(5), models.TFD1), models.TFD1, t0)
		assert.True(t, errors.Is(err, models.ErrInsufficientData))
	})

	t.Run("same window yields same signal", func(t *testing.T) {
		bars := barsFromCloses(alternating(60, 50, 52), models.TFD1)
		a, err := c.Classify(bars, models.TFD1, t0)
		require.NoError(t, err)
		b, err := c.Classify(bars, models.TFD1, t0)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("bounds", func(t *testing.T) {
		for _, closes := range [][]float64{uptrend(60), alternating(60, 10, 12), append(alternating(40, 100, 100.1), alternating(10, 90, 110)...)} {
			sig, err := c.Classify(barsFromCloses(closes, models.TFD1), models.TFD1, t0)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sig.Confidence, 0.0)
			assert.LessOrEqual(t, sig.Confidence, 1.0)
			assert.GreaterOrEqual(t, sig.Strength, -1.0)
			assert.LessOrEqual(t, sig.Strength, 1.0)
		}
	})
}

func TestClassifyMetricsUsesConfiguredThresholds(t *testing.T) {
	m := models.RegimeMetrics{TrendStrength: 0.6, VolatilityRatio: 1.1, MeanReversionSpeed: 0, MomentumPersistence: 0.4}

	th := config.DefaultEngineConfig().Thresholds
	typ, _ := ClassifyMetrics(m, th)
	assert.Equal(t, models.RegimeMomentum, typ)

	th.MomentumPersistenceMin = 0.5
	typ, _ = ClassifyMetrics(m, th)
	assert.Equal(t, models.RegimeNeutral, typ)

	th.TransitionVolRatio = 1.05
	typ, conf := ClassifyMetrics(m, th)
	assert.Equal(t, models.RegimeTransition, typ)
	assert.Greater(t, conf, 0.5)
}

func weights3() []config.TimeframeWeight {
	return []config.TimeframeWeight{
		{Timeframe: models.TFH1, Weight: 0.2},
		{Timeframe: models.TFH4, Weight: 0.3},
		{Timeframe: models.TFD1, Weight: 0.5},
	}
}

func sig(tf models.Timeframe, typ models.RegimeType, strength float64) models.RegimeSignal {
	return models.RegimeSignal{Type: typ, Timeframe: tf, Strength: strength, Confidence: 0.8}
}

func TestAggregate(t *testing.T) {
	t.Run("full agreement gives coherence one", func(t *testing.T) {
		r, err := Aggregate("SPY", []models.RegimeSignal{
			sig(models.TFD1, models.RegimeMomentum, 0.9),
			sig(models.TFH1, models.RegimeMomentum, 0.5),
			sig(models.TFH4, models.RegimeMomentum, 0.7),
		}, weights3(), t0)
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.Coherence)
		assert.Equal(t, models.RegimeMomentum, r.DominantRegime)
		assert.InDelta(t, 0.2*0.5+0.3*0.7+0.5*0.9, r.Strength, 1e-12)
		// output follows the weight order
		assert.Equal(t, models.TFH1, r.Signals[0].Timeframe)
		assert.Equal(t, models.TFD1, r.Signals[2].Timeframe)
	})

	t.Run("missing timeframe is renormalized", func(t *testing.T) {
		r, err := Aggregate("SPY", []models.RegimeSignal{
			sig(models.TFH4, models.RegimeNeutral, 0),
			sig(models.TFD1, models.RegimeMomentum, 0.4),
		}, weights3(), t0)
		require.NoError(t, err)
		require.Len(t, r.Weights, 2)
		assert.InDelta(t, 1.0, r.Weights[0]+r.Weights[1], 1e-12)
		assert.InDelta(t, 0.375, r.Weights[0], 1e-12)
		assert.Equal(t, models.RegimeMomentum, r.DominantRegime)
		assert.Equal(t, 0.0, r.Coherence)
	})

	t.Run("no signals", func(t *testing.T) {
		_, err := Aggregate("SPY", nil, weights3(), t0)
		assert.True(t, errors.Is(err, models.ErrInsufficientData))
	})
}

func TestCoherenceMonotonic(t *testing.T) {
	ws := []float64{0.2, 0.3, 0.5}
	m, n, r := models.RegimeMomentum, models.RegimeNeutral, models.RegimeMeanReversion
	steps := [][]models.RegimeType{
		{m, n, r},
		{m, n, m},
		{m, m, m},
	}
	prev := -1.0
	for _, types := range steps {
		c := Coherence(types, ws)
		assert.GreaterOrEqual(t, c, prev, "types %v", types)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}
	assert.Equal(t, 1.0, prev)
	assert.Equal(t, 1.0, Coherence([]models.RegimeType{n}, []float64{1}))
}

func TestDominantRegimeTiePrecedence(t *testing.T) {
	ws := []float64{0.5, 0.5}
	assert.Equal(t, models.RegimeNeutral, DominantRegime([]models.RegimeType{models.RegimeMomentum, models.RegimeNeutral}, ws))
	assert.Equal(t, models.RegimeTransition, DominantRegime([]models.RegimeType{models.RegimeNeutral, models.RegimeTransition}, ws))
	assert.Equal(t, models.RegimeMeanReversion, DominantRegime([]models.RegimeType{models.RegimeMomentum, models.RegimeMeanReversion}, ws))
	assert.Equal(t, models.RegimeMomentum, DominantRegime([]models.RegimeType{models.RegimeMomentum, models.RegimeNeutral}, []float64{0.6, 0.4}))
}
