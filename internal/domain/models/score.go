package models

import "time"

// FactorCategory groups scoring factors.
type FactorCategory string

const (
	CategoryExpectancy  FactorCategory = "expectancy"
	CategoryStatistical FactorCategory = "statistical"
	CategoryPercentile  FactorCategory = "percentile"
)

// Factor names.
const (
	FactorExpectancy = "expectancy"
	FactorConfidence = "confidence"
	FactorPercentile = "percentile_extremeness"
)

// ScoringFactor is one weighted, normalised component of a composite score.
type ScoringFactor struct {
	Name     string         `json:"name"`
	Value    float64        `json:"value"`
	Weight   float64        `json:"weight"`
	Category FactorCategory `json:"category"`
}

// CompositeScore ranks one instrument within the scored universe.
type CompositeScore struct {
	Instrument        string             `json:"instrument"`
	TotalScore        float64            `json:"totalScore"`
	Factors           []ScoringFactor    `json:"factors"`
	Rank              int                `json:"rank"`
	Percentile        float64            `json:"percentile"`
	CurrentPercentile float64            `json:"currentPercentile"`
	Expectancy        *ExpectancyMetrics `json:"expectancy,omitempty"`
	Regime            RegimeType         `json:"regime,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Factor looks a factor up by name.
func (s CompositeScore) Factor(name string) (ScoringFactor, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return ScoringFactor{}, false
}

// Clone returns a deep copy.
func (s CompositeScore) Clone() CompositeScore {
	c := s
	c.Factors = append([]ScoringFactor(nil), s.Factors...)
	c.Expectancy = s.Expectancy.Clone()
	return c
}
