package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

func scoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights:               config.ScoringWeights{Expectancy: 0.60, Confidence: 0.25, Percentile: 0.15},
		ExpectancyScale:       0.05,
		FullConfidenceSamples: 30,
		TScoreCritical:        2.0,
	}
}

func metrics(e float64, n int, p *float64) *models.ExpectancyMetrics {
	return &models.ExpectancyMetrics{SampleSize: n, ExpectancyPerTrade: e, PValue: p}
}

func ptr(v float64) *float64 { return &v }

func TestScoreFactors(t *testing.T) {
	s := NewScorer(scoringConfig())
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := s.Score(Input{
		Instrument:        "AAPL",
		Expectancy:        metrics(0.025, 15, ptr(0.2)),
		CurrentPercentile: 10,
		Bin:               &models.PercentileBin{TScore: -1},
		Regime:            models.RegimeMeanReversion,
		Timestamp:         at,
	})
	require.NoError(t, err)

	e, _ := got.Factor(models.FactorExpectancy)
	c, _ := got.Factor(models.FactorConfidence)
	p, _ := got.Factor(models.FactorPercentile)
	assert.InDelta(t, 0.5, e.Value, 1e-12)
	assert.InDelta(t, 0.4, c.Value, 1e-12)
	assert.InDelta(t, 0.4, p.Value, 1e-12)
	assert.InDelta(t, 0.6*0.5+0.25*0.4+0.15*0.4, got.TotalScore, 1e-12)
	assert.Equal(t, models.RegimeMeanReversion, got.Regime)
	assert.Equal(t, at, got.Timestamp)
}

func TestScoreWithoutExpectancy(t *testing.T) {
	_, err := NewScorer(scoringConfig()).Score(Input{Instrument: "X"})
	assert.ErrorIs(t, err, ErrNoExpectancy)
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := NewScorer(scoringConfig())
	cases := []Input{
		{Instrument: "hi", Expectancy: metrics(10, 1000, ptr(0)), CurrentPercentile: 0},
		{Instrument: "lo", Expectancy: metrics(-10, 1, ptr(1)), CurrentPercentile: 50},
		{Instrument: "nop", Expectancy: metrics(0.01, 5, nil), CurrentPercentile: 100, Bin: &models.PercentileBin{TScore: 9}},
	}
	for _, in := range cases {
		t.Run(in.Instrument, func(t *testing.T) {
			got, err := s.Score(in)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.TotalScore, 0.0)
			assert.LessOrEqual(t, got.TotalScore, 1.0)
		})
	}
}

func TestConfidenceFactorWithoutPValue(t *testing.T) {
	assert.Zero(t, ConfidenceFactor(metrics(0.01, 50, nil), 30))
	assert.InDelta(t, 0.9, ConfidenceFactor(metrics(0.01, 50, ptr(0.1)), 30), 1e-12)
}

func TestRank(t *testing.T) {
	in := []models.CompositeScore{
		{Instrument: "B", TotalScore: 0.4},
		{Instrument: "A", TotalScore: 0.4},
		{Instrument: "C", TotalScore: 0.9},
	}
	got := Rank(in)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{got[0].Instrument, got[1].Instrument, got[2].Instrument})
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Rank, got[1].Rank, got[2].Rank})
	assert.Equal(t, []float64{100, 50, 0}, []float64{got[0].Percentile, got[1].Percentile, got[2].Percentile})
	assert.Zero(t, in[0].Rank, "input must not be modified")

	single := Rank([]models.CompositeScore{{Instrument: "Z", TotalScore: 0.1}})
	assert.Equal(t, 100.0, single[0].Percentile)
	assert.Empty(t, Rank(nil))
}

func TestRankWithinUniverse(t *testing.T) {
	in := []models.CompositeScore{
		{Instrument: "A", TotalScore: 0.7},
		{Instrument: "B", TotalScore: 0.2},
	}
	got := RankWithin(in, 5)
	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Percentile)
	assert.Equal(t, 75.0, got[1].Percentile, "three unscored instruments rank below B")

	alone := RankWithin(in[:1], 1)
	assert.Equal(t, 100.0, alone[0].Percentile)

	small := RankWithin(in, 0)
	assert.Equal(t, 0.0, small[1].Percentile, "universe never smaller than the scored set")
}
