package models

import "time"

// RegimeType classifies current price behaviour.
type RegimeType string

const (
	RegimeMomentum      RegimeType = "momentum"
	RegimeMeanReversion RegimeType = "mean_reversion"
	RegimeNeutral       RegimeType = "neutral"
	RegimeTransition    RegimeType = "transition"
)

// RegimePrecedence breaks ties in the weighted vote, strongest claim first.
// The most conservative reading wins: an unstable tape beats no edge, which
// beats either directional regime.
var RegimePrecedence = []RegimeType{
	RegimeTransition,
	RegimeNeutral,
	RegimeMeanReversion,
	RegimeMomentum,
}

// PrecedenceOf returns the tie-break position of t (lower wins).
func PrecedenceOf(t RegimeType) int {
	for i, r := range RegimePrecedence {
		if r == t {
			return i
		}
	}
	return len(RegimePrecedence)
}

// RegimeMetrics are the raw measurements a classification is derived from.
type RegimeMetrics struct {
	TrendStrength       float64 `json:"trendStrength"`
	VolatilityRatio     float64 `json:"volatilityRatio"`
	MeanReversionSpeed  float64 `json:"meanReversionSpeed"`
	MomentumPersistence float64 `json:"momentumPersistence"`
}

// RegimeSignal is one timeframe's classification. Values are never mutated
// once produced.
type RegimeSignal struct {
	Type       RegimeType    `json:"type"`
	Confidence float64       `json:"confidence"`
	Strength   float64       `json:"strength"`
	Timeframe  Timeframe     `json:"timeframe"`
	Timestamp  time.Time     `json:"timestamp"`
	Metrics    RegimeMetrics `json:"metrics"`
}

// MultiTimeframeRegime aggregates the per-timeframe signals of an instrument.
type MultiTimeframeRegime struct {
	Instrument     string         `json:"instrument"`
	Signals        []RegimeSignal `json:"signals"`
	Weights        []float64      `json:"weights"`
	Coherence      float64        `json:"coherence"`
	DominantRegime RegimeType     `json:"dominantRegime"`
	Strength       float64        `json:"strength"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Clone returns a deep copy.
func (r *MultiTimeframeRegime) Clone() *MultiTimeframeRegime {
	if r == nil {
		return nil
	}
	c := *r
	c.Signals = append([]RegimeSignal(nil), r.Signals...)
	c.Weights = append([]float64(nil), r.Weights...)
	return &c
}
