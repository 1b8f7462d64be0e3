package models

import "time"

// Direction of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// StopAdjustment records one tightening of an adaptive stop.
type StopAdjustment struct {
	From      float64   `json:"from"`
	To        float64   `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AdaptiveStopLoss only ever tightens in the position's favour.
type AdaptiveStopLoss struct {
	InitialStop  float64          `json:"initialStop"`
	CurrentStop  float64          `json:"currentStop"`
	RiskAmount   float64          `json:"riskAmount"`
	UpdateReason string           `json:"updateReason"`
	Timestamp    time.Time        `json:"timestamp"`
	History      []StopAdjustment `json:"history,omitempty"`
}

// Position is an open position tracked by the monitor.
type Position struct {
	ID            string           `json:"id"`
	Instrument    string           `json:"instrument" validate:"required"`
	Direction     Direction        `json:"direction" validate:"required,oneof=long short"`
	EntryPrice    float64          `json:"entryPrice" validate:"gt=0"`
	CurrentPrice  float64          `json:"currentPrice"`
	Quantity      float64          `json:"quantity" validate:"gt=0"`
	UnrealizedPnL float64          `json:"unrealizedPnl"`
	RiskAmount    float64          `json:"riskAmount"`
	Stop          AdaptiveStopLoss `json:"stop"`
	StopTriggered bool             `json:"stopTriggered"`
	OpenedAt      time.Time        `json:"openedAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	c := p
	c.Stop.History = append([]StopAdjustment(nil), p.Stop.History...)
	return c
}
