package regime

import (
	"fmt"
	"math"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/services/features"
	"SwingPulse/pkg/config"
)

// Classifier maps one timeframe's bar window to a RegimeSignal. It holds no
// state beyond its thresholds.
type Classifier struct {
	th config.RegimeThresholds
}

// NewClassifier creates a classifier using th.
func NewClassifier(th config.RegimeThresholds) *Classifier {
	return &Classifier{th: th}
}

// Classify uses the last LookbackBars bars of the series.
func (c *Classifier) Classify(bars []models.Bar, tf models.Timeframe, at time.Time) (models.RegimeSignal, error) {
	if len(bars) < c.th.MinBars {
		return models.RegimeSignal{}, fmt.Errorf("%w: %s has %d bars, need %d",
			models.ErrInsufficientData, tf, len(bars), c.th.MinBars)
	}
	if len(bars) > c.th.LookbackBars {
		bars = bars[len(bars)-c.th.LookbackBars:]
	}
	closes := models.Closes(bars)
	m := ComputeMetrics(closes, c.th.ShortWindow)
	typ, conf := ClassifyMetrics(m, c.th)

	return models.RegimeSignal{
		Type:       typ,
		Confidence: conf,
		Strength:   signalStrength(typ, m, closes),
		Timeframe:  tf,
		Timestamp:  at,
		Metrics:    m,
	}, nil
}

// ComputeMetrics derives the four regime measurements from a close window.
func ComputeMetrics(closes []float64, shortWindow int) models.RegimeMetrics {
	logs := make([]float64, len(closes))
	for i, c := range closes {
		if c > 0 {
			logs[i] = math.Log(c)
		}
	}
	slope, r2 := features.LinearTrend(logs)
	trend := r2
	if slope < 0 {
		trend = -r2
	}

	rets := features.ComputeLogReturns(closes)
	volRatio := 1.0
	if longVol := features.RealizedVolatility(rets, len(rets), 1); longVol > 0 {
		w := shortWindow
		if w > len(rets) {
			w = len(rets)
		}
		volRatio = features.RealizedVolatility(rets, w, 1) / longVol
	}

	return models.RegimeMetrics{
		TrendStrength:       features.Clamp(trend, -1, 1),
		VolatilityRatio:     volRatio,
		MeanReversionSpeed:  features.Clamp(-features.Autocorrelation(rets, 1), -1, 1),
		MomentumPersistence: features.EfficiencyRatio(closes),
	}
}

// ClassifyMetrics applies the rules in order: transition, momentum,
// mean reversion, neutral. Confidence grows with the margin past the
// triggering thresholds.
func ClassifyMetrics(m models.RegimeMetrics, th config.RegimeThresholds) (models.RegimeType, float64) {
	absTrend := math.Abs(m.TrendStrength)

	switch {
	case m.VolatilityRatio >= th.TransitionVolRatio:
		return models.RegimeTransition, margin(m.VolatilityRatio, th.TransitionVolRatio)

	case absTrend >= th.MomentumTrendMin && m.MomentumPersistence >= th.MomentumPersistenceMin:
		conf := (margin(absTrend, th.MomentumTrendMin) + margin(m.MomentumPersistence, th.MomentumPersistenceMin)) / 2
		return models.RegimeMomentum, conf

	case m.MeanReversionSpeed >= th.MeanReversionSpeedMin && absTrend <= th.MeanReversionTrendMax:
		flatness := features.Clamp(1-absTrend/th.MeanReversionTrendMax, 0, 1)
		conf := (margin(m.MeanReversionSpeed, th.MeanReversionSpeedMin) + flatness) / 2
		return models.RegimeMeanReversion, conf
	}

	nearest := math.Max(absTrend/th.MomentumTrendMin, math.Max(0, m.MeanReversionSpeed)/th.MeanReversionSpeedMin)
	return models.RegimeNeutral, features.Clamp(1-nearest, 0, 1)
}

// margin is 0.5 at the threshold and reaches 1 at twice the threshold.
func margin(x, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return features.Clamp(0.5+0.5*(x-threshold)/threshold, 0, 1)
}

func signalStrength(t models.RegimeType, m models.RegimeMetrics, closes []float64) float64 {
	switch t {
	case models.RegimeMeanReversion:
		// stretched above the mean points down, below points up
		z := features.ZScore(closes)
		return features.Clamp(-z/2, -1, 1)
	default:
		return features.Clamp(m.TrendStrength*m.MomentumPersistence, -1, 1)
	}
}
