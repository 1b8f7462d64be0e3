package models

import (
	"fmt"
	"time"
)

// TradeOutcome is one historical round trip. Outcome histories are append-only.
type TradeOutcome struct {
	Instrument      string     `json:"instrument"`
	EntryPrice      float64    `json:"entryPrice" validate:"gt=0"`
	ExitPrice       float64    `json:"exitPrice" validate:"gt=0"`
	HoldingDays     float64    `json:"holdingDays" validate:"gte=0"`
	Return          float64    `json:"return"`
	EntryPercentile float64    `json:"entryPercentile" validate:"gte=0,lte=100"`
	ExitPercentile  float64    `json:"exitPercentile" validate:"gte=0,lte=100"`
	Regime          RegimeType `json:"regime,omitempty" validate:"omitempty,oneof=momentum mean_reversion neutral transition"`
	EntryTime       time.Time  `json:"entryTime"`
	ExitTime        time.Time  `json:"exitTime"`
}

// PercentileBin holds the historical statistics of one percentile cohort,
// e.g. the observations that sat in the lowest 5% of their range.
type PercentileBin struct {
	Label      string  `json:"label" validate:"max=32"`
	Lower      float64 `json:"lower" validate:"gte=0,lte=100"`
	Upper      float64 `json:"upper" validate:"gtfield=Lower,lte=100"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std" validate:"gte=0"`
	TScore     float64 `json:"tScore"`
	SampleSize int     `json:"sampleSize" validate:"gt=0"`
}

// Contains reports whether percentile p falls in [Lower, Upper).
// The top bin is closed so that 100 is always covered.
func (b PercentileBin) Contains(p float64) bool {
	if p == b.Upper && b.Upper >= 100 {
		return true
	}
	return p >= b.Lower && p < b.Upper
}

// DefaultLabel renders the bin bounds when no label is supplied.
func (b PercentileBin) DefaultLabel() string {
	if b.Label != "" {
		return b.Label
	}
	return fmt.Sprintf("%g-%g%%", b.Lower, b.Upper)
}

// BinStatistics is the percentile-bin table for one ticker and timeframe as
// served by the external analytics store.
type BinStatistics struct {
	Ticker            string          `json:"ticker"`
	Timeframe         Timeframe       `json:"timeframe"`
	Bins              []PercentileBin `json:"bins" validate:"required,min=1,dive"`
	CurrentPercentile *float64        `json:"currentPercentile,omitempty" validate:"omitnil,gte=0,lte=100"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// BinFor returns the bin containing percentile p, or nil.
func (s *BinStatistics) BinFor(p float64) *PercentileBin {
	if s == nil {
		return nil
	}
	for i := range s.Bins {
		if s.Bins[i].Contains(p) {
			b := s.Bins[i]
			return &b
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *BinStatistics) Clone() *BinStatistics {
	if s == nil {
		return nil
	}
	c := *s
	c.Bins = append([]PercentileBin(nil), s.Bins...)
	c.CurrentPercentile = cloneFloat(s.CurrentPercentile)
	return &c
}
