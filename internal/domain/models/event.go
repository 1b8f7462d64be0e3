package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates engine events.
type EventType string

const (
	EventRegimeChange     EventType = "REGIME_CHANGE"
	EventScoreUpdate      EventType = "SCORE_UPDATE"
	EventAllocationChange EventType = "ALLOCATION_CHANGE"
	EventError            EventType = "ERROR"
)

// EventTypes lists every event type in a stable order.
var EventTypes = []EventType{EventRegimeChange, EventScoreUpdate, EventAllocationChange, EventError}

// Lifecycle phases carried by REGIME_CHANGE events.
const (
	PhaseStarted = "started"
	PhaseStopped = "stopped"
)

// Event is delivered to subscribers. Payload is one of the *Payload types
// below, chosen by Type.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Instrument string    `json:"instrument,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
}

// LifecyclePayload accompanies the start/stop REGIME_CHANGE events.
type LifecyclePayload struct {
	Phase string `json:"phase"`
}

// RegimeChangePayload accompanies an instrument's dominant-regime change.
type RegimeChangePayload struct {
	Previous RegimeType            `json:"previous,omitempty"`
	Current  RegimeType            `json:"current"`
	Regime   *MultiTimeframeRegime `json:"regime"`
}

// ScoreUpdatePayload carries the ranked scores of a tick.
type ScoreUpdatePayload struct {
	Scores []CompositeScore `json:"scores"`
}

// AllocationChangePayload carries the new allocation set.
type AllocationChangePayload struct {
	Allocations    []AllocationDecision `json:"allocations"`
	TotalAllocated float64              `json:"totalAllocated"`
	TotalRisk      float64              `json:"totalRisk"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(t EventType, instrument string, at time.Time, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Instrument: instrument,
		Timestamp:  at,
		Payload:    payload,
	}
}

// NewErrorEvent wraps err in an ERROR event scoped to instrument.
func NewErrorEvent(instrument string, at time.Time, err error) Event {
	ev := NewEvent(EventError, instrument, at, nil)
	ev.Err = err
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// LifecycleOf returns the phase of a start/stop event, or "".
func (e Event) LifecycleOf() string {
	if p, ok := e.Payload.(LifecyclePayload); ok {
		return p.Phase
	}
	return ""
}
