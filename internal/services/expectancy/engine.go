// Package expectancy derives risk-adjusted expectancy metrics from historical
// trade outcomes.
package expectancy

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/montanaflynn/stats"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

// Cohort selects the outcomes a metric set is computed over. The zero value
// matches every outcome.
type Cohort struct {
	Regime        models.RegimeType `json:"regime,omitempty"`
	MinPercentile *float64          `json:"minPercentile,omitempty"`
	MaxPercentile *float64          `json:"maxPercentile,omitempty"`
}

// Key is a stable identifier used for caching and seeding.
func (c Cohort) Key() string {
	key := "all"
	if c.Regime != "" {
		key = string(c.Regime)
	}
	if c.MinPercentile != nil || c.MaxPercentile != nil {
		lo, hi := "0", "100"
		if c.MinPercentile != nil {
			lo = strconv.FormatFloat(*c.MinPercentile, 'g', -1, 64)
		}
		if c.MaxPercentile != nil {
			hi = strconv.FormatFloat(*c.MaxPercentile, 'g', -1, 64)
		}
		key += "@" + lo + "-" + hi
	}
	return key
}

// Matches reports whether an outcome belongs to the cohort.
func (c Cohort) Matches(o models.TradeOutcome) bool {
	if c.Regime != "" && o.Regime != c.Regime {
		return false
	}
	if c.MinPercentile != nil && o.EntryPercentile < *c.MinPercentile {
		return false
	}
	if c.MaxPercentile != nil && o.EntryPercentile > *c.MaxPercentile {
		return false
	}
	return true
}

// Options parameterise one Compute call.
type Options struct {
	Instrument string
	Cohort     Cohort
	Reference  *models.PercentileBin
}

// Engine computes expectancy metrics. It is safe for concurrent use.
type Engine struct {
	cfg config.ExpectancyConfig
	z   float64
}

// NewEngine builds an engine for the given confidence and bootstrap settings.
func NewEngine(cfg config.ExpectancyConfig) *Engine {
	return &Engine{
		cfg: cfg,
		z:   NormalQuantile(1 - (1-cfg.ConfidenceLevel)/2),
	}
}

// Compute summarises the outcomes selected by opts.Cohort. It returns nil
// when the cohort is empty.
func (e *Engine) Compute(outcomes []models.TradeOutcome, opts Options) *models.ExpectancyMetrics {
	returns := make([]float64, 0, len(outcomes))
	holding := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if !opts.Cohort.Matches(o) {
			continue
		}
		returns = append(returns, o.Return)
		holding = append(holding, o.HoldingDays)
	}
	n := len(returns)
	if n == 0 {
		return nil
	}

	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else {
			losses = append(losses, r)
		}
	}

	m := &models.ExpectancyMetrics{
		Cohort:     opts.Cohort.Key(),
		SampleSize: n,
		WinRate:    float64(len(wins)) / float64(n),
	}
	lo, hi := WilsonInterval(len(wins), n, e.z)
	m.WinRateCI = models.ConfidenceInterval{Lower: lo, Upper: hi, Level: e.cfg.ConfidenceLevel}
	m.AvgWin = meanOrZero(wins)
	m.AvgLoss = meanOrZero(losses)

	m.ExpectancyPerTrade = meanOrZero(returns)
	rng := rand.New(rand.NewPCG(e.cfg.BootstrapSeed, seedFor(opts.Instrument, m.Cohort)))
	lo, hi = BootstrapMeanInterval(returns, e.cfg.BootstrapSamples, e.cfg.ConfidenceLevel, rng)
	m.ExpectancyCI = models.ConfidenceInterval{
		Lower: math.Min(lo, m.ExpectancyPerTrade),
		Upper: math.Max(hi, m.ExpectancyPerTrade),
		Level: e.cfg.ConfidenceLevel,
	}

	m.AvgHoldingDays = meanOrZero(holding)
	if m.AvgHoldingDays > 0 {
		perDay := m.ExpectancyPerTrade / m.AvgHoldingDays
		m.ExpectancyPerDay = &perDay
	}
	if day, ok := OptimalHoldingDay(holding, returns); ok {
		m.OptimalHoldingDay = &day
	}
	if p, ok := TTestPValue(returns); ok {
		m.PValue = &p
	}
	if opts.Reference != nil {
		ref := *opts.Reference
		m.Reference = &ref
	}
	return m
}

// ForRegime computes metrics over the regime cohort when it holds at least
// MinCohortSize outcomes and over the full history otherwise.
func (e *Engine) ForRegime(instrument string, outcomes []models.TradeOutcome, regime models.RegimeType, ref *models.PercentileBin) *models.ExpectancyMetrics {
	if regime != "" {
		cohort := Cohort{Regime: regime}
		size := 0
		for _, o := range outcomes {
			if cohort.Matches(o) {
				size++
			}
		}
		if size >= e.cfg.MinCohortSize {
			return e.Compute(outcomes, Options{Instrument: instrument, Cohort: cohort, Reference: ref})
		}
	}
	return e.Compute(outcomes, Options{Instrument: instrument, Reference: ref})
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}

func seedFor(instrument, cohort string) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s", instrument, cohort)
	return h.Sum64()
}
