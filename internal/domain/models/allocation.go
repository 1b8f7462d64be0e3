package models

// EntryZone describes where a new position should be opened.
type EntryZone struct {
	Label string  `json:"label"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// HoldingPeriod bounds the expected holding time in days.
type HoldingPeriod struct {
	MinDays int `json:"minDays"`
	MaxDays int `json:"maxDays"`
}

// AllocationDecision is a proposed position for one instrument.
type AllocationDecision struct {
	Instrument       string         `json:"instrument"`
	Rank             int            `json:"rank"`
	AllocatedCapital float64        `json:"allocatedCapital"`
	PositionSize     int64          `json:"positionSize"`
	RiskAmount       float64        `json:"riskAmount"`
	ExpectedReturn   float64        `json:"expectedReturn"`
	StopDistancePct  float64        `json:"stopDistancePct"`
	StopLoss         float64        `json:"stopLoss"`
	EntryPrice       float64        `json:"entryPrice"`
	EntryZone        EntryZone      `json:"entryZone"`
	HoldingPeriod    HoldingPeriod  `json:"holdingPeriod"`
	Score            CompositeScore `json:"score"`
}

// Clone returns a deep copy.
func (d AllocationDecision) Clone() AllocationDecision {
	c := d
	c.Score = d.Score.Clone()
	return c
}

// CloneAllocations deep-copies a decision set.
func CloneAllocations(in []AllocationDecision) []AllocationDecision {
	if in == nil {
		return nil
	}
	out := make([]AllocationDecision, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}
