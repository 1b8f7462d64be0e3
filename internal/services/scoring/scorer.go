// Package scoring turns expectancy, statistical confidence and percentile
// extremeness into one ranked composite score per instrument.
package scoring

import (
	"errors"
	"math"
	"sort"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/services/features"
	"SwingPulse/pkg/config"
)

// ErrNoExpectancy is returned when an instrument has no expectancy metrics.
var ErrNoExpectancy = errors.New("scoring: expectancy metrics required")

// Input is everything the scorer needs for one instrument.
type Input struct {
	Instrument        string
	Expectancy        *models.ExpectancyMetrics
	CurrentPercentile float64
	Bin               *models.PercentileBin
	Regime            models.RegimeType
	Timestamp         time.Time
}

// Scorer computes weighted composite scores.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer builds a scorer. Weights are expected to be validated already.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns the unranked composite score of one instrument.
func (s *Scorer) Score(in Input) (models.CompositeScore, error) {
	if in.Expectancy == nil {
		return models.CompositeScore{}, ErrNoExpectancy
	}
	w := s.cfg.Weights
	factors := []models.ScoringFactor{
		{
			Name:     models.FactorExpectancy,
			Value:    ExpectancyFactor(in.Expectancy, s.cfg.ExpectancyScale),
			Weight:   w.Expectancy,
			Category: models.CategoryExpectancy,
		},
		{
			Name:     models.FactorConfidence,
			Value:    ConfidenceFactor(in.Expectancy, s.cfg.FullConfidenceSamples),
			Weight:   w.Confidence,
			Category: models.CategoryStatistical,
		},
		{
			Name:     models.FactorPercentile,
			Value:    PercentileFactor(in.CurrentPercentile, in.Bin, s.cfg.TScoreCritical),
			Weight:   w.Percentile,
			Category: models.CategoryPercentile,
		},
	}

	total := 0.0
	for _, f := range factors {
		total += f.Weight * f.Value
	}
	return models.CompositeScore{
		Instrument:        in.Instrument,
		TotalScore:        features.Clamp(total, 0, 1),
		Factors:           factors,
		CurrentPercentile: in.CurrentPercentile,
		Expectancy:        in.Expectancy.Clone(),
		Regime:            in.Regime,
		Timestamp:         in.Timestamp,
	}, nil
}

// ExpectancyFactor maps expectancy per trade onto [0,1]; scale is the
// expectancy that earns the full factor.
func ExpectancyFactor(m *models.ExpectancyMetrics, scale float64) float64 {
	if m == nil || scale <= 0 {
		return 0
	}
	return features.Clamp(m.ExpectancyPerTrade/scale, 0, 1)
}

// ConfidenceFactor is (1 - p) discounted for small samples.
func ConfidenceFactor(m *models.ExpectancyMetrics, fullSamples int) float64 {
	if m == nil || m.PValue == nil {
		return 0
	}
	n := 1.0
	if fullSamples > 0 {
		n = math.Min(1, float64(m.SampleSize)/float64(fullSamples))
	}
	return features.Clamp((1-*m.PValue)*n, 0, 1)
}

// PercentileFactor rewards distance from the median, weighted by the
// significance of the current bin when one is known.
func PercentileFactor(pct float64, bin *models.PercentileBin, tCritical float64) float64 {
	v := features.Clamp(math.Abs(pct-50)/50, 0, 1)
	if bin != nil && tCritical > 0 {
		v *= math.Min(1, math.Abs(bin.TScore)/tCritical)
	}
	return v
}

// Rank returns a copy of scores ordered by total score, highest first, with
// ties broken by instrument. Rank is 1-based; Percentile is 100 for the best
// and 0 for the worst.
func Rank(scores []models.CompositeScore) []models.CompositeScore {
	return RankWithin(scores, len(scores))
}

// RankWithin ranks scores like Rank but places them in a universe of size
// instruments; instruments without a score sit below every ranked one.
func RankWithin(scores []models.CompositeScore, universe int) []models.CompositeScore {
	out := make([]models.CompositeScore, len(scores))
	for i, s := range scores {
		out[i] = s.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].Instrument < out[j].Instrument
	})
	n := max(universe, len(out))
	for i := range out {
		out[i].Rank = i + 1
		if n == 1 {
			out[i].Percentile = 100
			continue
		}
		out[i].Percentile = 100 * float64(n-out[i].Rank) / float64(n-1)
	}
	return out
}
