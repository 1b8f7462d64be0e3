package repository

import (
	"context"
	"time"

	"SwingPulse/internal/domain/models"
)

// OutcomeStore persists and loads historical trade outcomes.
type OutcomeStore interface {
	LoadOutcomes(ctx context.Context, instrument string, since time.Time) ([]models.TradeOutcome, error)
	SaveOutcomes(ctx context.Context, outcomes []models.TradeOutcome) error
	Health(ctx context.Context) error
}

// EventPublisher forwards engine events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
	PublishBatch(ctx context.Context, evs []models.Event) error
	Close() error
}

// Metrics records engine-level telemetry.
type Metrics interface {
	ObserveTick(d time.Duration)
	RecordError(kind, stage string)
	RecordEvent(eventType string, delivered bool)
	RecordIngest(source, instrument string)
	SetScore(instrument string, score float64)
	SetAllocation(instrument string, capital float64)
	RecordLatency(op string, seconds float64)
}
