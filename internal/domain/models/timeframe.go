package models

import "strings"

// Timeframe identifies a bar resolution.
type Timeframe string

const (
	TFM15 Timeframe = "M15"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
	TFD1  Timeframe = "D1"
	TFW1  Timeframe = "W1"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TFM15, TFH1, TFH4, TFD1, TFW1:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TFD1 }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
// Common lowercase aliases such as "1h" or "1d" are accepted.
func NormalizeTimeframe(s string) Timeframe {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultTimeframe()
	case "m15", "15m":
		return TFM15
	case "h1", "1h", "60m":
		return TFH1
	case "h4", "4h":
		return TFH4
	case "d1", "1d":
		return TFD1
	case "w1", "1w":
		return TFW1
	}
	return DefaultTimeframe()
}

// BarsPerYear returns the approximate number of bars per trading year.
func (tf Timeframe) BarsPerYear() float64 {
	switch tf {
	case TFM15:
		return 252 * 26
	case TFH1:
		return 252 * 6.5
	case TFH4:
		return 252 * 2
	case TFW1:
		return 52
	default:
		return 252
	}
}
