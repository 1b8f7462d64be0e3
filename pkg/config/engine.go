package config

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"SwingPulse/internal/domain/models"

	"github.com/creasty/defaults"
)

// WeightTolerance is the allowed deviation of a weight set from 1.0.
const WeightTolerance = 1e-6

// TimeframeWeight assigns importance to one timeframe in the coherence vote.
type TimeframeWeight struct {
	Timeframe models.Timeframe `yaml:"timeframe" json:"timeframe" validate:"required"`
	Weight    float64          `yaml:"weight" json:"weight" validate:"gt=0,lte=1"`
}

// RiskManagementConfig bounds the allocation.
type RiskManagementConfig struct {
	MaxPositions       int     `yaml:"max_positions" json:"maxPositions" default:"5" validate:"gt=0"`
	RiskPerTradePct    float64 `yaml:"risk_per_trade_pct" json:"riskPerTradePct" default:"0.02" validate:"gt=0,lte=1"`
	MinStopDistancePct float64 `yaml:"min_stop_distance_pct" json:"minStopDistancePct" default:"0.02" validate:"gt=0,lt=1"`
	TotalCapital       float64 `yaml:"total_capital" json:"totalCapital" default:"100000" validate:"gt=0"`
}

// RegimeThresholds are the cutoffs of the regime classifier.
type RegimeThresholds struct {
	LookbackBars           int     `yaml:"lookback_bars" json:"lookbackBars" default:"50" validate:"gte=3"`
	MinBars                int     `yaml:"min_bars" json:"minBars" default:"20" validate:"gte=3"`
	ShortWindow            int     `yaml:"short_window" json:"shortWindow" default:"10" validate:"gte=2"`
	TransitionVolRatio     float64 `yaml:"transition_vol_ratio" json:"transitionVolRatio" default:"1.8" validate:"gt=1"`
	MomentumTrendMin       float64 `yaml:"momentum_trend_min" json:"momentumTrendMin" default:"0.5" validate:"gt=0,lte=1"`
	MomentumPersistenceMin float64 `yaml:"momentum_persistence_min" json:"momentumPersistenceMin" default:"0.3" validate:"gt=0,lte=1"`
	MeanReversionSpeedMin  float64 `yaml:"mean_reversion_speed_min" json:"meanReversionSpeedMin" default:"0.15" validate:"gt=0,lte=1"`
	MeanReversionTrendMax  float64 `yaml:"mean_reversion_trend_max" json:"meanReversionTrendMax" default:"0.3" validate:"gt=0,lte=1"`
}

// ExpectancyConfig tunes the statistics of the expectancy engine.
type ExpectancyConfig struct {
	ConfidenceLevel  float64 `yaml:"confidence_level" json:"confidenceLevel" default:"0.95" validate:"gt=0.5,lt=1"`
	BootstrapSamples int     `yaml:"bootstrap_samples" json:"bootstrapSamples" default:"1000" validate:"gte=100"`
	BootstrapSeed    uint64  `yaml:"bootstrap_seed" json:"bootstrapSeed" default:"42"`
	MinCohortSize    int     `yaml:"min_cohort_size" json:"minCohortSize" default:"10" validate:"gte=1"`
}

// ScoringWeights are the composite-score factor weights; they sum to 1.
type ScoringWeights struct {
	Expectancy float64 `yaml:"expectancy" json:"expectancy" default:"0.60" validate:"gte=0,lte=1"`
	Confidence float64 `yaml:"confidence" json:"confidence" default:"0.25" validate:"gte=0,lte=1"`
	Percentile float64 `yaml:"percentile" json:"percentile" default:"0.15" validate:"gte=0,lte=1"`
}

// Sum returns the total weight.
func (w ScoringWeights) Sum() float64 { return w.Expectancy + w.Confidence + w.Percentile }

// ScoringConfig normalises raw factor inputs into [0,1].
type ScoringConfig struct {
	Weights               ScoringWeights `yaml:"weights" json:"weights"`
	ExpectancyScale       float64        `yaml:"expectancy_scale" json:"expectancyScale" default:"0.05" validate:"gt=0"`
	FullConfidenceSamples int            `yaml:"full_confidence_samples" json:"fullConfidenceSamples" default:"30" validate:"gt=0"`
	TScoreCritical        float64        `yaml:"t_score_critical" json:"tScoreCritical" default:"2.0" validate:"gt=0"`
}

// AllocationConfig tunes the allocation engine beyond the risk limits.
type AllocationConfig struct {
	MinConfidence       float64 `yaml:"min_confidence" json:"minConfidence" default:"0.3" validate:"gte=0,lte=1"`
	LowPercentileCutoff float64 `yaml:"low_percentile_cutoff" json:"lowPercentileCutoff" default:"20" validate:"gt=0,lte=100"`
	StopStdMultiplier   float64 `yaml:"stop_std_multiplier" json:"stopStdMultiplier" default:"1.0" validate:"gt=0"`
	MaxStopDistancePct  float64 `yaml:"max_stop_distance_pct" json:"maxStopDistancePct" default:"0.25" validate:"gt=0,lt=1"`
	EntryZonePct        float64 `yaml:"entry_zone_pct" json:"entryZonePct" default:"0.01" validate:"gte=0,lt=1"`
	HoldingWindowDays   int     `yaml:"holding_window_days" json:"holdingWindowDays" default:"2" validate:"gte=0"`
}

// StopConfig drives the adaptive stop, expressed in multiples of initial risk (R).
type StopConfig struct {
	BreakevenR       float64 `yaml:"breakeven_r" json:"breakevenR" default:"1.0" validate:"gt=0"`
	TrailActivationR float64 `yaml:"trail_activation_r" json:"trailActivationR" default:"2.0" validate:"gt=0"`
	TrailR           float64 `yaml:"trail_r" json:"trailR" default:"1.0" validate:"gt=0"`
}

// EngineConfig configures the framework controller and every pipeline stage.
type EngineConfig struct {
	UpdateInterval   time.Duration        `yaml:"update_interval" json:"updateInterval" default:"60s" validate:"gt=0"`
	PrimaryTimeframe models.Timeframe     `yaml:"primary_timeframe" json:"primaryTimeframe" default:"D1" validate:"required"`
	TimeframeWeights []TimeframeWeight    `yaml:"timeframe_weights" json:"timeframeWeights" validate:"required,min=1,dive"`
	RiskManagement   RiskManagementConfig `yaml:"risk_management" json:"riskManagement"`
	LogLevel         string               `yaml:"log_level" json:"logLevel" default:"info" validate:"oneof=debug info warn error"`
	Benchmark        string               `yaml:"benchmark" json:"benchmark" default:"SPY"`
	Thresholds       RegimeThresholds     `yaml:"thresholds" json:"thresholds"`
	Expectancy       ExpectancyConfig     `yaml:"expectancy" json:"expectancy"`
	Scoring          ScoringConfig        `yaml:"scoring" json:"scoring"`
	Allocation       AllocationConfig     `yaml:"allocation" json:"allocation"`
	Stops            StopConfig           `yaml:"stops" json:"stops"`
}

// SetDefaults fills the timeframe weights, which struct tags cannot express.
func (c *EngineConfig) SetDefaults() {
	if len(c.TimeframeWeights) == 0 {
		c.TimeframeWeights = []TimeframeWeight{
			{Timeframe: models.TFH1, Weight: 0.2},
			{Timeframe: models.TFH4, Weight: 0.3},
			{Timeframe: models.TFD1, Weight: 0.5},
		}
	}
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	var c EngineConfig
	if err := defaults.Set(&c); err != nil {
		// tags are static; a failure here is a programming error
		panic(fmt.Sprintf("engine defaults: %v", err))
	}
	return c
}

// Validate checks field ranges, timeframe weights and scoring weights.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !models.IsValidTimeframe(c.PrimaryTimeframe) {
		return fmt.Errorf("primary_timeframe %q is not supported", c.PrimaryTimeframe)
	}
	if err := ValidateTimeframeWeights(c.TimeframeWeights); err != nil {
		return err
	}
	if s := c.Scoring.Weights.Sum(); math.Abs(s-1) > WeightTolerance {
		return fmt.Errorf("scoring weights must sum to 1, got %.6f", s)
	}
	if c.RiskManagement.MinStopDistancePct > c.Allocation.MaxStopDistancePct {
		return fmt.Errorf("risk_management.min_stop_distance_pct (%.4f) exceeds allocation.max_stop_distance_pct (%.4f)",
			c.RiskManagement.MinStopDistancePct, c.Allocation.MaxStopDistancePct)
	}
	if c.Thresholds.MinBars > c.Thresholds.LookbackBars {
		return fmt.Errorf("thresholds.min_bars (%d) exceeds lookback_bars (%d)", c.Thresholds.MinBars, c.Thresholds.LookbackBars)
	}
	if c.Thresholds.ShortWindow >= c.Thresholds.MinBars {
		return fmt.Errorf("thresholds.short_window (%d) must be below min_bars (%d)", c.Thresholds.ShortWindow, c.Thresholds.MinBars)
	}
	return nil
}

// ValidateTimeframeWeights requires unique supported timeframes with
// positive weights summing to 1 within WeightTolerance.
func ValidateTimeframeWeights(ws []TimeframeWeight) error {
	if len(ws) == 0 {
		return fmt.Errorf("timeframe_weights cannot be empty")
	}
	seen := make(map[models.Timeframe]struct{}, len(ws))
	sum := 0.0
	for _, w := range ws {
		if !models.IsValidTimeframe(w.Timeframe) {
			return fmt.Errorf("timeframe %q is not supported", w.Timeframe)
		}
		if _, dup := seen[w.Timeframe]; dup {
			return fmt.Errorf("timeframe %q listed twice", w.Timeframe)
		}
		seen[w.Timeframe] = struct{}{}
		if w.Weight <= 0 || math.IsNaN(w.Weight) {
			return fmt.Errorf("timeframe %q weight must be positive", w.Timeframe)
		}
		sum += w.Weight
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("timeframe weights must sum to 1, got %.6f", sum)
	}
	return nil
}

// MarshalJSON writes updateInterval in milliseconds, the unit ConfigPatch reads.
func (c EngineConfig) MarshalJSON() ([]byte, error) {
	type plain EngineConfig
	return json.Marshal(struct {
		plain
		UpdateInterval int64 `json:"updateInterval"`
	}{plain(c), c.UpdateInterval.Milliseconds()})
}

// UnmarshalJSON reads updateInterval in milliseconds.
func (c *EngineConfig) UnmarshalJSON(b []byte) error {
	type plain EngineConfig
	aux := struct {
		*plain
		UpdateInterval *int64 `json:"updateInterval"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.UpdateInterval != nil {
		c.UpdateInterval = time.Duration(*aux.UpdateInterval) * time.Millisecond
	}
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c EngineConfig) Clone() EngineConfig {
	out := c
	out.TimeframeWeights = append([]TimeframeWeight(nil), c.TimeframeWeights...)
	return out
}

// RiskManagementPatch overrides individual risk limits.
type RiskManagementPatch struct {
	MaxPositions       *int     `json:"maxPositions,omitempty" validate:"omitnil,gt=0"`
	RiskPerTradePct    *float64 `json:"riskPerTradePct,omitempty" validate:"omitnil,gt=0,lte=1"`
	MinStopDistancePct *float64 `json:"minStopDistancePct,omitempty" validate:"omitnil,gt=0,lt=1"`
	TotalCapital       *float64 `json:"totalCapital,omitempty" validate:"omitnil,gt=0"`
}

// ConfigPatch is a partial update. Nil fields are left unchanged; non-nil
// struct fields replace the whole section, so struct defaults are never
// applied to them.
type ConfigPatch struct {
	UpdateIntervalMs *int64               `json:"updateInterval,omitempty" validate:"omitnil,gt=0"`
	PrimaryTimeframe *models.Timeframe    `json:"primaryTimeframe,omitempty" validate:"omitnil,oneof=M15 H1 H4 D1 W1"`
	TimeframeWeights []TimeframeWeight    `json:"timeframeWeights,omitempty" default:"-" validate:"omitempty,dive"`
	RiskManagement   *RiskManagementPatch `json:"riskManagement,omitempty" default:"-"`
	LogLevel         *string              `json:"logLevel,omitempty" validate:"omitnil,oneof=debug info warn error"`
	Benchmark        *string              `json:"benchmark,omitempty" validate:"omitnil,max=32"`
	Thresholds       *RegimeThresholds    `json:"thresholds,omitempty" default:"-"`
	Expectancy       *ExpectancyConfig    `json:"expectancy,omitempty" default:"-"`
	Scoring          *ScoringConfig       `json:"scoring,omitempty" default:"-"`
	Allocation       *AllocationConfig    `json:"allocation,omitempty" default:"-"`
	Stops            *StopConfig          `json:"stops,omitempty" default:"-"`
}

// Apply returns a copy of c with the patch applied. The result is not validated.
func (c EngineConfig) Apply(p ConfigPatch) EngineConfig {
	out := c.Clone()
	if p.UpdateIntervalMs != nil {
		out.UpdateInterval = time.Duration(*p.UpdateIntervalMs) * time.Millisecond
	}
	if p.PrimaryTimeframe != nil {
		out.PrimaryTimeframe = *p.PrimaryTimeframe
	}
	if p.TimeframeWeights != nil {
		out.TimeframeWeights = append([]TimeframeWeight(nil), p.TimeframeWeights...)
	}
	if rm := p.RiskManagement; rm != nil {
		if rm.MaxPositions != nil {
			out.RiskManagement.MaxPositions = *rm.MaxPositions
		}
		if rm.RiskPerTradePct != nil {
			out.RiskManagement.RiskPerTradePct = *rm.RiskPerTradePct
		}
		if rm.MinStopDistancePct != nil {
			out.RiskManagement.MinStopDistancePct = *rm.MinStopDistancePct
		}
		if rm.TotalCapital != nil {
			out.RiskManagement.TotalCapital = *rm.TotalCapital
		}
	}
	if p.LogLevel != nil {
		out.LogLevel = *p.LogLevel
	}
	if p.Benchmark != nil {
		out.Benchmark = *p.Benchmark
	}
	if p.Thresholds != nil {
		out.Thresholds = *p.Thresholds
	}
	if p.Expectancy != nil {
		out.Expectancy = *p.Expectancy
	}
	if p.Scoring != nil {
		out.Scoring = *p.Scoring
	}
	if p.Allocation != nil {
		out.Allocation = *p.Allocation
	}
	if p.Stops != nil {
		out.Stops = *p.Stops
	}
	return out
}
