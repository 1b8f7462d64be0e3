package models

// ConfidenceInterval brackets a point estimate at the given level.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// Contains reports whether v lies inside the interval.
func (ci ConfidenceInterval) Contains(v float64) bool {
	return ci.Lower <= v && v <= ci.Upper
}

// ExpectancyMetrics summarises a batch of trade outcomes. Pointer fields are
// nil when the quantity is undefined for the batch.
type ExpectancyMetrics struct {
	Cohort             string             `json:"cohort"`
	SampleSize         int                `json:"sampleSize"`
	WinRate            float64            `json:"winRate"`
	WinRateCI          ConfidenceInterval `json:"winRateCI"`
	AvgWin             float64            `json:"avgWin"`
	AvgLoss            float64            `json:"avgLoss"`
	ExpectancyPerTrade float64            `json:"expectancyPerTrade"`
	ExpectancyCI       ConfidenceInterval `json:"expectancyCI"`
	AvgHoldingDays     float64            `json:"avgHoldingDays"`
	ExpectancyPerDay   *float64           `json:"expectancyPerDay,omitempty"`
	OptimalHoldingDay  *int               `json:"optimalHoldingDay,omitempty"`
	PValue             *float64           `json:"pValue,omitempty"`
	Reference          *PercentileBin     `json:"reference,omitempty"`
}

// Clone returns a deep copy.
func (m *ExpectancyMetrics) Clone() *ExpectancyMetrics {
	if m == nil {
		return nil
	}
	c := *m
	c.ExpectancyPerDay = cloneFloat(m.ExpectancyPerDay)
	c.OptimalHoldingDay = cloneInt(m.OptimalHoldingDay)
	c.PValue = cloneFloat(m.PValue)
	if m.Reference != nil {
		r := *m.Reference
		c.Reference = &r
	}
	return &c
}
