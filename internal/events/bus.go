// Package events implements the synchronous, ordered event bus the framework
// controller publishes through.
package events

import (
	"fmt"
	"sync"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/domain/repository"
	applogger "SwingPulse/pkg/logger"
	"SwingPulse/pkg/metrics"
)

// Handler consumes one event. A returned error or a panic is reported as a
// secondary ERROR event.
type Handler func(models.Event) error

// SubscriptionID identifies a subscription for Off.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	typ     models.EventType // empty for OnAll
	handler Handler
}

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID

	logger  *applogger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for failures that cannot be re-reported.
func WithLogger(l *applogger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m repository.Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithClock sets the timestamp source of secondary ERROR events.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:  applogger.NewNop(),
		metrics: metrics.Noop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes h to events of type t.
func (b *Bus) On(t models.EventType, h Handler) SubscriptionID {
	return b.subscribe(t, h)
}

// OnAll subscribes h to every event type. Remove it with Off("", id).
func (b *Bus) OnAll(h Handler) SubscriptionID {
	return b.subscribe("", h)
}

func (b *Bus) subscribe(t models.EventType, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, typ: t, handler: h})
	return b.nextID
}

// Off removes a subscription. It reports whether one was removed.
func (b *Bus) Off(t models.EventType, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id && s.typ == t {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev synchronously and returns the number of failed
// deliveries. Failures are re-published as ERROR events; failures while
// delivering an ERROR event are only logged.
func (b *Bus) Publish(ev models.Event) int {
	failures := b.deliver(ev)
	if ev.Type == models.EventError {
		for _, err := range failures {
			b.logger.Error("error event handler failed",
				applogger.String("instrument", ev.Instrument),
				applogger.Error(err))
		}
		return len(failures)
	}
	for _, derr := range failures {
		b.logger.Warn("event handler failed",
			applogger.String("event_type", string(ev.Type)),
			applogger.Error(derr))
		secondary := models.NewErrorEvent(ev.Instrument, b.now(), derr)
		for _, err := range b.deliver(secondary) {
			b.logger.Error("error event handler failed",
				applogger.String("instrument", ev.Instrument),
				applogger.Error(err))
		}
	}
	return len(failures)
}

// PublishAll publishes events in order and returns the total failures.
func (b *Bus) PublishAll(evs []models.Event) int {
	n := 0
	for _, ev := range evs {
		n += b.Publish(ev)
	}
	return n
}

func (b *Bus) deliver(ev models.Event) []*models.DeliveryError {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ == "" || s.typ == ev.Type {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	var failures []*models.DeliveryError
	for _, s := range targets {
		if derr := call(s, ev); derr != nil {
			failures = append(failures, derr)
			b.metrics.RecordEvent(string(ev.Type), false)
			b.metrics.RecordError("delivery", string(ev.Type))
			continue
		}
		b.metrics.RecordEvent(string(ev.Type), true)
	}
	return failures
}

func call(s subscription, ev models.Event) (derr *models.DeliveryError) {
	defer func() {
		if r := recover(); r != nil {
			derr = &models.DeliveryError{
				Code:           models.ErrCodeHandlerPanic,
				EventType:      ev.Type,
				SubscriptionID: uint64(s.id),
				Message:        "handler panicked",
				Err:            fmt.Errorf("panic: %v", r),
			}
		}
	}()
	if err := s.handler(ev); err != nil {
		return &models.DeliveryError{
			Code:           models.ErrCodeHandlerFailed,
			EventType:      ev.Type,
			SubscriptionID: uint64(s.id),
			Message:        "handler returned error",
			Err:            err,
		}
	}
	return nil
}
