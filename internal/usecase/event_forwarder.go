package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	applogger "SwingPulse/pkg/logger"
	"SwingPulse/pkg/metrics"
)

// EventForwarder buffers bus events and ships them to an EventPublisher in
// batches so that slow sinks never block a tick. Events are dropped when the
// buffer is full.
type EventForwarder struct {
	pub     domrepo.EventPublisher
	ch      chan models.Event
	batch   int
	linger  time.Duration
	logger  *applogger.Logger
	metrics domrepo.Metrics
	dropped atomic.Int64
}

func NewEventForwarder(pub domrepo.EventPublisher, buffer, batch int, linger time.Duration, logger *applogger.Logger, m domrepo.Metrics) *EventForwarder {
	if buffer <= 0 {
		buffer = 1024
	}
	if batch <= 0 {
		batch = 100
	}
	if linger <= 0 {
		linger = 200 * time.Millisecond
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &EventForwarder{
		pub:     pub,
		ch:      make(chan models.Event, buffer),
		batch:   batch,
		linger:  linger,
		logger:  logger.Named("forwarder"),
		metrics: m,
	}
}

// Handle enqueues ev. It has the events.Handler signature and never fails.
func (f *EventForwarder) Handle(ev models.Event) error {
	select {
	case f.ch <- ev:
	default:
		if f.dropped.Add(1)%100 == 1 {
			f.logger.Warn("event buffer full, dropping", applogger.String("type", string(ev.Type)),
				applogger.Int64("dropped", f.dropped.Load()))
		}
		f.metrics.RecordError("forward_dropped", "events")
	}
	return nil
}

// Dropped counts events lost to a full buffer.
func (f *EventForwarder) Dropped() int64 { return f.dropped.Load() }

// Run ships batches until ctx is done, then flushes what is buffered.
func (f *EventForwarder) Run(ctx context.Context) {
	t := time.NewTicker(f.linger)
	defer t.Stop()
	pending := make([]models.Event, 0, f.batch)
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		start := time.Now()
		if err := f.pub.PublishBatch(ctx, pending); err != nil {
			f.logger.Error("forward events", applogger.Int("count", len(pending)), applogger.Error(err))
			f.metrics.RecordError("forward_publish", "events")
		}
		f.metrics.RecordLatency("event_forward_seconds", time.Since(start).Seconds())
		pending = pending[:0]
	}
	for {
		select {
		case ev := <-f.ch:
			pending = append(pending, ev)
			if len(pending) >= f.batch {
				flush(ctx)
			}
		case <-t.C:
			flush(ctx)
		case <-ctx.Done():
			for {
				select {
				case ev := <-f.ch:
					pending = append(pending, ev)
				default:
					fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					flush(fctx)
					cancel()
					return
				}
			}
		}
	}
}
