package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/metrics"
)

type memBarStore struct {
	bars map[string][]models.Bar
}

func (s *memBarStore) GetBars(_ context.Context, inst string, from, to time.Time, tf models.Timeframe) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range s.bars[inst] {
		if b.Timeframe == tf && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memBarStore) GetLatestNBars(_ context.Context, inst string, n int, tf models.Timeframe) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range s.bars[inst] {
		if b.Timeframe == tf {
			b.Timeframe = ""
			out = append(out, b)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

type memOutcomeStore struct {
	mu   sync.Mutex
	rows []models.TradeOutcome
	err  error
}

func (s *memOutcomeStore) LoadOutcomes(_ context.Context, inst string, since time.Time) ([]models.TradeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []models.TradeOutcome
	for _, o := range s.rows {
		if o.Instrument == inst && !o.ExitTime.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOutcomeStore) SaveOutcomes(_ context.Context, os []models.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, os...)
	return nil
}

func (s *memOutcomeStore) Health(context.Context) error { return nil }

func outcomeAt(inst string, exit time.Time) models.TradeOutcome {
	return models.TradeOutcome{
		Instrument: inst, EntryPrice: 100, ExitPrice: 102, HoldingDays: 3, Return: 0.02,
		EntryPercentile: 10, ExitPercentile: 50, EntryTime: exit.Add(-72 * time.Hour), ExitTime: exit,
	}
}

func TestLoaderSeedsBarsAndOutcomes(t *testing.T) {
	c, _, _ := newTestController(t)
	bars := &memBarStore{bars: map[string][]models.Bar{"AAA": trendBars(60, 0.01)}}
	outs := &memOutcomeStore{rows: []models.TradeOutcome{
		outcomeAt("AAA", t0.Add(-48*time.Hour)),
		outcomeAt("AAA", t0.Add(-24*time.Hour)),
		outcomeAt("BBB", t0.Add(-24*time.Hour)),
	}}
	l := NewMarketDataLoader(c, bars, outs, []string{"AAA"},
		WithBarsPerTimeframe(50), WithLoaderClock(fixedClock{t0}))

	require.NoError(t, l.LoadOnce(context.Background()))
	md := c.GetState().MarketData["AAA"]
	assert.Len(t, md.Bars, 150)
	assert.Equal(t, 2, c.OutcomeCount("AAA"))

	require.NoError(t, l.LoadOnce(context.Background()))
	assert.Equal(t, 2, c.OutcomeCount("AAA"), "already loaded outcomes are skipped")

	require.NoError(t, outs.SaveOutcomes(context.Background(), []models.TradeOutcome{outcomeAt("AAA", t0)}))
	require.NoError(t, l.LoadOnce(context.Background()))
	assert.Equal(t, 3, c.OutcomeCount("AAA"))
}

func TestLoaderJoinsInstrumentErrors(t *testing.T) {
	c, _, _ := newTestController(t)
	outs := &memOutcomeStore{err: errors.New("clickhouse down")}
	l := NewMarketDataLoader(c, &memBarStore{}, outs, []string{"AAA", "BBB"}, WithLoaderClock(fixedClock{t0}))

	err := l.LoadOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load outcomes AAA")
	assert.Contains(t, err.Error(), "load outcomes BBB")
}

type memArchive struct {
	saved map[string]int
}

func (a *memArchive) SaveBars(_ context.Context, inst string, bars []models.Bar, _ models.Timeframe) error {
	if a.saved == nil {
		a.saved = map[string]int{}
	}
	a.saved[inst] += len(bars)
	return nil
}

func TestKafkaBarsHandler(t *testing.T) {
	c, _, rec := newTestController(t)
	archive := &memArchive{}
	h := NewKafkaBarsHandler("swingpulse.bars", c, archive,
		func() models.Timeframe { return c.GetConfig().PrimaryTimeframe }, metrics.Noop{})
	assert.Equal(t, "swingpulse.bars", h.Topic())

	bid, ask := 100.0, 100.5
	msg, err := json.Marshal(barsMessage{Instrument: " aaa ", Bars: trendBars(30, 0.01), Bid: &bid, Ask: &ask})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), msg))

	md, ok := c.GetState().MarketData["AAA"]
	require.True(t, ok)
	require.NotNil(t, md.Spread)
	assert.InDelta(t, 0.5, *md.Spread, 1e-9)
	assert.Equal(t, 90, archive.saved["AAA"])

	assert.Error(t, h.Handle(context.Background(), []byte("{")))

	empty, _ := json.Marshal(barsMessage{Instrument: "BBB"})
	err = h.Handle(context.Background(), empty)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, models.ErrCodeEmptyBars, ve.Code)
	assert.Len(t, rec.ofType(models.EventError), 1)
	assert.Zero(t, archive.saved["BBB"])
}

type memPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *memPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.PublishBatch(ctx, []models.Event{ev})
}

func (p *memPublisher) PublishBatch(_ context.Context, evs []models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func TestEventForwarderFlushesOnShutdown(t *testing.T) {
	pub := &memPublisher{}
	f := NewEventForwarder(pub, 16, 4, time.Hour, nil, nil)
	for i := 0; i < 6; i++ {
		require.NoError(t, f.Handle(models.NewEvent(models.EventScoreUpdate, "", t0, nil)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.events, 6)
}

func TestEventForwarderDropsWhenFull(t *testing.T) {
	f := NewEventForwarder(&memPublisher{}, 1, 1, time.Hour, nil, nil)
	require.NoError(t, f.Handle(models.NewEvent(models.EventScoreUpdate, "", t0, nil)))
	require.NoError(t, f.Handle(models.NewEvent(models.EventScoreUpdate, "", t0, nil)))
	assert.EqualValues(t, 1, f.Dropped())
}
