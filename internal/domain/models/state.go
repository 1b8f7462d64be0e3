package models

import "time"

// FrameworkMetrics are counters maintained by the controller.
type FrameworkMetrics struct {
	TickCount            int64         `json:"tickCount"`
	LastTickDuration     time.Duration `json:"lastTickDuration"`
	LastTickAt           time.Time     `json:"lastTickAt"`
	InstrumentsProcessed int           `json:"instrumentsProcessed"`
	InstrumentErrors     int64         `json:"instrumentErrors"`
	EventsDelivered      int64         `json:"eventsDelivered"`
	DeliveryErrors       int64         `json:"deliveryErrors"`
	TotalAllocated       float64       `json:"totalAllocated"`
	TotalRisk            float64       `json:"totalRisk"`
	UnrealizedPnL        float64       `json:"unrealizedPnl"`
}

// FrameworkState is a point-in-time snapshot of the engine. Snapshots handed
// to callers are deep copies.
type FrameworkState struct {
	IsActive      bool                             `json:"isActive"`
	MarketData    map[string]MarketData            `json:"marketData"`
	CurrentRegime *MultiTimeframeRegime            `json:"currentRegime,omitempty"`
	Regimes       map[string]*MultiTimeframeRegime `json:"regimes"`
	Scores        map[string]CompositeScore        `json:"scores"`
	Allocations   []AllocationDecision             `json:"allocations"`
	Positions     []Position                       `json:"positions"`
	Metrics       FrameworkMetrics                 `json:"metrics"`
	LastUpdate    time.Time                        `json:"lastUpdate"`
}

// NewFrameworkState returns an empty inactive state.
func NewFrameworkState() *FrameworkState {
	return &FrameworkState{
		MarketData: make(map[string]MarketData),
		Regimes:    make(map[string]*MultiTimeframeRegime),
		Scores:     make(map[string]CompositeScore),
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s *FrameworkState) Clone() *FrameworkState {
	if s == nil {
		return nil
	}
	c := *s
	c.MarketData = make(map[string]MarketData, len(s.MarketData))
	for k, v := range s.MarketData {
		c.MarketData[k] = v.Clone()
	}
	c.CurrentRegime = s.CurrentRegime.Clone()
	c.Regimes = make(map[string]*MultiTimeframeRegime, len(s.Regimes))
	for k, v := range s.Regimes {
		c.Regimes[k] = v.Clone()
	}
	c.Scores = make(map[string]CompositeScore, len(s.Scores))
	for k, v := range s.Scores {
		c.Scores[k] = v.Clone()
	}
	c.Allocations = CloneAllocations(s.Allocations)
	if s.Positions != nil {
		c.Positions = make([]Position, len(s.Positions))
		for i, p := range s.Positions {
			c.Positions[i] = p.Clone()
		}
	}
	return &c
}
