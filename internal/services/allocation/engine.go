// Package allocation distributes a fixed capital budget over the
// best-scoring instruments under per-trade risk limits.
package allocation

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

// Candidate is a ranked instrument eligible for allocation.
type Candidate struct {
	Score      models.CompositeScore
	Price      float64
	Bins       []models.PercentileBin
	CurrentBin *models.PercentileBin
}

// Engine sizes positions.
type Engine struct {
	risk config.RiskManagementConfig
	cfg  config.AllocationConfig
}

// NewEngine builds an allocation engine.
func NewEngine(risk config.RiskManagementConfig, cfg config.AllocationConfig) *Engine {
	return &Engine{risk: risk, cfg: cfg}
}

// Allocate returns one decision per qualifying candidate, best first. The sum
// of allocated capital never exceeds totalCapital.
func (e *Engine) Allocate(cands []Candidate, totalCapital float64) []models.AllocationDecision {
	picked := e.qualify(cands)
	if len(picked) == 0 || totalCapital <= 0 {
		return []models.AllocationDecision{}
	}

	total := decimal.NewFromFloat(totalCapital)
	sum := decimal.Zero
	for _, c := range picked {
		sum = sum.Add(decimal.NewFromFloat(c.Score.TotalScore))
	}
	maxRisk := total.Mul(decimal.NewFromFloat(e.risk.RiskPerTradePct))

	out := make([]models.AllocationDecision, 0, len(picked))
	for i, c := range picked {
		stop := e.StopDistance(c.Bins)
		stopD := decimal.NewFromFloat(stop)

		capital := total.Mul(decimal.NewFromFloat(c.Score.TotalScore)).Div(sum).Truncate(2)
		if capital.Mul(stopD).GreaterThan(maxRisk) {
			capital = maxRisk.Div(stopD).Truncate(2)
		}
		capF := capital.InexactFloat64()

		d := models.AllocationDecision{
			Instrument:       c.Score.Instrument,
			Rank:             i + 1,
			AllocatedCapital: capF,
			PositionSize:     capital.Div(decimal.NewFromFloat(c.Price)).Floor().IntPart(),
			RiskAmount:       capital.Mul(stopD).Round(2).InexactFloat64(),
			StopDistancePct:  stop,
			StopLoss:         c.Price * (1 - stop),
			EntryPrice:       c.Price,
			EntryZone:        e.entryZone(c),
			HoldingPeriod:    e.holdingPeriod(c.Score.Expectancy),
			Score:            c.Score.Clone(),
		}
		if m := c.Score.Expectancy; m != nil {
			d.ExpectedReturn = capital.Mul(decimal.NewFromFloat(m.ExpectancyPerTrade)).Round(2).InexactFloat64()
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) qualify(cands []Candidate) []Candidate {
	picked := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		m := c.Score.Expectancy
		if m == nil || m.ExpectancyPerTrade <= 0 {
			continue
		}
		if c.Price <= 0 || c.Score.TotalScore <= 0 {
			continue
		}
		conf, _ := c.Score.Factor(models.FactorConfidence)
		if conf.Value < e.cfg.MinConfidence {
			continue
		}
		picked = append(picked, c)
	}
	sort.SliceStable(picked, func(i, j int) bool {
		a, b := picked[i].Score, picked[j].Score
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.Instrument < b.Instrument
	})
	if len(picked) > e.risk.MaxPositions {
		picked = picked[:e.risk.MaxPositions]
	}
	return picked
}

// StopDistance derives the stop distance from the dispersion of the low
// percentile bins, bounded by the configured minimum and maximum.
func (e *Engine) StopDistance(bins []models.PercentileBin) float64 {
	var stds []float64
	for _, b := range bins {
		if b.Upper <= e.cfg.LowPercentileCutoff && b.Std > 0 {
			stds = append(stds, b.Std)
		}
	}
	stop := e.risk.MinStopDistancePct
	if len(stds) > 0 {
		if mean, err := stats.Mean(stds); err == nil {
			stop = math.Max(stop, mean*e.cfg.StopStdMultiplier)
		}
	}
	// the configured minimum wins over the cap
	return math.Max(e.risk.MinStopDistancePct, math.Min(stop, e.cfg.MaxStopDistancePct))
}

func (e *Engine) entryZone(c Candidate) models.EntryZone {
	label := fmt.Sprintf("p%.0f", c.Score.CurrentPercentile)
	if c.CurrentBin != nil {
		label = c.CurrentBin.DefaultLabel()
	}
	return models.EntryZone{
		Label: label,
		Lower: c.Price * (1 - e.cfg.EntryZonePct),
		Upper: c.Price,
	}
}

func (e *Engine) holdingPeriod(m *models.ExpectancyMetrics) models.HoldingPeriod {
	opt := 1
	switch {
	case m == nil:
	case m.OptimalHoldingDay != nil:
		opt = *m.OptimalHoldingDay
	case m.AvgHoldingDays > 0:
		opt = int(math.Round(m.AvgHoldingDays))
	}
	if opt < 1 {
		opt = 1
	}
	w := e.cfg.HoldingWindowDays
	return models.HoldingPeriod{MinDays: max(1, opt-w), MaxDays: opt + w}
}
