package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

func newTestEngine(maxPositions int) *Engine {
	return NewEngine(
		config.RiskManagementConfig{MaxPositions: maxPositions, RiskPerTradePct: 0.02, MinStopDistancePct: 0.02, TotalCapital: 100000},
		config.AllocationConfig{MinConfidence: 0.3, LowPercentileCutoff: 20, StopStdMultiplier: 1, MaxStopDistancePct: 0.25, EntryZonePct: 0.01, HoldingWindowDays: 2},
	)
}

func candidate(inst string, total, expectancy, confidence, price float64) Candidate {
	return Candidate{
		Price: price,
		Score: models.CompositeScore{
			Instrument: inst,
			TotalScore: total,
			Factors:    []models.ScoringFactor{{Name: models.FactorConfidence, Value: confidence}},
			Expectancy: &models.ExpectancyMetrics{ExpectancyPerTrade: expectancy, SampleSize: 30},
		},
	}
}

func TestAllocate(t *testing.T) {
	opt := 3
	a := candidate("A", 0.6, 0.02, 0.8, 100)
	a.Score.Expectancy.OptimalHoldingDay = &opt
	a.Bins = []models.PercentileBin{
		{Label: "0-10%", Lower: 0, Upper: 10, Std: 0.04},
		{Label: "10-20%", Lower: 10, Upper: 20, Std: 0.04},
		{Label: "80-100%", Lower: 80, Upper: 100, Std: 0.5},
	}
	a.CurrentBin = &a.Bins[0]

	b := candidate("B", 0.3, 0.01, 0.5, 50)
	b.Score.Expectancy.AvgHoldingDays = 4.4
	b.Score.CurrentPercentile = 12

	cands := []Candidate{
		b,
		candidate("C", 0.5, -0.01, 0.9, 10),
		candidate("D", 0.4, 0.03, 0.1, 10),
		a,
		candidate("E", 0.1, 0.01, 0.9, 10),
	}

	got := newTestEngine(2).Allocate(cands, 100000)
	require.Len(t, got, 2)

	first, second := got[0], got[1]
	assert.Equal(t, "A", first.Instrument)
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, 0.04, first.StopDistancePct)
	// risk capped at 2% of capital: 2000 / 0.04
	assert.Equal(t, 50000.0, first.AllocatedCapital)
	assert.Equal(t, int64(500), first.PositionSize)
	assert.Equal(t, 2000.0, first.RiskAmount)
	assert.Equal(t, 1000.0, first.ExpectedReturn)
	assert.InDelta(t, 96, first.StopLoss, 1e-9)
	assert.Equal(t, "0-10%", first.EntryZone.Label)
	assert.InDelta(t, 99, first.EntryZone.Lower, 1e-9)
	assert.Equal(t, 100.0, first.EntryZone.Upper)
	assert.Equal(t, models.HoldingPeriod{MinDays: 1, MaxDays: 5}, first.HoldingPeriod)

	assert.Equal(t, "B", second.Instrument)
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, 33333.33, second.AllocatedCapital)
	assert.Equal(t, int64(666), second.PositionSize)
	assert.Equal(t, 666.67, second.RiskAmount)
	assert.Equal(t, "p12", second.EntryZone.Label)
	assert.Equal(t, models.HoldingPeriod{MinDays: 2, MaxDays: 6}, second.HoldingPeriod)
}

func TestAllocateNeverExceedsCapital(t *testing.T) {
	e := NewEngine(
		config.RiskManagementConfig{MaxPositions: 10, RiskPerTradePct: 1, MinStopDistancePct: 0.02, TotalCapital: 1000},
		config.AllocationConfig{MinConfidence: 0, LowPercentileCutoff: 20, StopStdMultiplier: 1, MaxStopDistancePct: 0.25},
	)
	var cands []Candidate
	for i, s := range []float64{0.33, 0.33, 0.33, 0.17, 0.71, 0.05, 0.29} {
		cands = append(cands, candidate(string(rune('A'+i)), s, 0.01, 0.5, 3.7))
	}
	got := e.Allocate(cands, 1000)
	require.Len(t, got, 7)

	sum := 0.0
	for _, d := range got {
		sum += d.AllocatedCapital
		assert.GreaterOrEqual(t, d.AllocatedCapital, 0.0)
	}
	assert.LessOrEqual(t, sum, 1000.0)
}

func TestAllocateNoQualifyingCandidates(t *testing.T) {
	got := newTestEngine(5).Allocate([]Candidate{
		candidate("A", 0.8, 0, 0.9, 10),
		candidate("B", 0.7, -0.02, 0.9, 10),
	}, 100000)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, newTestEngine(5).Allocate(nil, 100000))
}

func TestStopDistance(t *testing.T) {
	e := newTestEngine(5)
	assert.Equal(t, 0.02, e.StopDistance(nil))
	assert.Equal(t, 0.02, e.StopDistance([]models.PercentileBin{{Upper: 10, Std: 0.01}}))
	assert.Equal(t, 0.25, e.StopDistance([]models.PercentileBin{{Upper: 10, Std: 0.9}}))
	assert.Equal(t, 0.02, e.StopDistance([]models.PercentileBin{{Lower: 50, Upper: 60, Std: 0.1}}))
}

func TestStopDistanceNeverBelowMinimum(t *testing.T) {
	e := NewEngine(
		config.RiskManagementConfig{MaxPositions: 5, RiskPerTradePct: 0.02, MinStopDistancePct: 0.30, TotalCapital: 100000},
		config.AllocationConfig{LowPercentileCutoff: 20, StopStdMultiplier: 1, MaxStopDistancePct: 0.25},
	)
	assert.GreaterOrEqual(t, e.StopDistance(nil), 0.30)
	assert.GreaterOrEqual(t, e.StopDistance([]models.PercentileBin{{Upper: 10, Std: 0.9}}), 0.30)
}
