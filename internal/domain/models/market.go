package models

import "time"

// Bar is one OHLCV record. A bar with an empty Timeframe belongs to the
// primary timeframe of the engine.
type Bar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
}

// MarketData is the latest known series for one instrument. Bars of several
// timeframes may be interleaved.
type MarketData struct {
	Instrument   string    `json:"instrument"`
	Bars         []Bar     `json:"bars"`
	CurrentPrice float64   `json:"currentPrice"`
	Bid          *float64  `json:"bid,omitempty"`
	Ask          *float64  `json:"ask,omitempty"`
	Spread       *float64  `json:"spread,omitempty"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// Price returns CurrentPrice, falling back to the close of the last bar.
func (m MarketData) Price() float64 {
	if m.CurrentPrice > 0 {
		return m.CurrentPrice
	}
	if len(m.Bars) == 0 {
		return 0
	}
	return m.Bars[len(m.Bars)-1].Close
}

// BarsFor returns the bars belonging to tf, in input order.
func (m MarketData) BarsFor(tf, primary Timeframe) []Bar {
	out := make([]Bar, 0, len(m.Bars))
	for _, b := range m.Bars {
		btf := b.Timeframe
		if btf == "" {
			btf = primary
		}
		if btf == tf {
			out = append(out, b)
		}
	}
	return out
}

// Closes extracts close prices.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Clone returns a deep copy.
func (m MarketData) Clone() MarketData {
	c := m
	c.Bars = append([]Bar(nil), m.Bars...)
	c.Bid = cloneFloat(m.Bid)
	c.Ask = cloneFloat(m.Ask)
	c.Spread = cloneFloat(m.Spread)
	return c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
