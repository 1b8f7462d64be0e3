package usecase

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) handle(ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestController(t *testing.T) (*FrameworkController, *ManualScheduler, *recorder) {
	t.Helper()
	sched := &ManualScheduler{}
	c, err := NewFrameworkController(config.DefaultEngineConfig(), WithScheduler(sched), WithClock(fixedClock{t0}))
	require.NoError(t, err)
	rec := &recorder{}
	c.OnAll(rec.handle)
	return c, sched, rec
}

func trendBars(n int, step float64) []models.Bar {
	var bars []models.Bar
	for _, tf := range []struct {
		tf  models.Timeframe
		gap time.Duration
	}{{models.TFH1, time.Hour}, {models.TFH4, 4 * time.Hour}, {models.TFD1, 24 * time.Hour}} {
		start := t0.Add(-time.Duration(n) * tf.gap)
		for i := 0; i < n; i++ {
			c := 100 * math.Exp(step*float64(i))
			bars = append(bars, models.Bar{
				Open: c, High: c, Low: c, Close: c, Volume: 1000,
				Timestamp: start.Add(time.Duration(i) * tf.gap),
				Timeframe: tf.tf,
			})
		}
	}
	return bars
}

func winningOutcomes(n int) []models.TradeOutcome {
	out := make([]models.TradeOutcome, n)
	for i := range out {
		ret := 0.03
		if i%2 == 1 {
			ret = 0.01
		}
		out[i] = models.TradeOutcome{
			EntryPrice: 100, ExitPrice: 100 * (1 + ret), HoldingDays: float64(1 + i%5),
			Return: ret, EntryPercentile: 10, ExitPercentile: 60,
		}
	}
	return out
}

func TestScenarioAUptrendIsMomentum(t *testing.T) {
	c, sched, rec := newTestController(t)
	for _, inst := range []string{"AAA", "BBB", "CCC"} {
		require.NoError(t, c.AddMarketData(inst, models.MarketData{Bars: trendBars(60, 0.01)}))
	}
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.Start())
	require.True(t, sched.Fire())

	state := c.GetState()
	momentum := 0
	for _, inst := range []string{"AAA", "BBB", "CCC"} {
		r := state.Regimes[inst]
		require.NotNil(t, r, inst)
		if r.DominantRegime == models.RegimeMomentum {
			momentum++
		}
		assert.Greater(t, r.Coherence, 0.5)
		require.Len(t, r.Signals, 3)
	}
	assert.GreaterOrEqual(t, momentum, 2)
	require.NotNil(t, state.CurrentRegime, "falls back to the top-ranked instrument")
	assert.Equal(t, "AAA", state.CurrentRegime.Instrument)

	score, ok := state.Scores["AAA"]
	require.True(t, ok)
	assert.Equal(t, 1, score.Rank)
	assert.GreaterOrEqual(t, score.TotalScore, 0.0)
	assert.LessOrEqual(t, score.TotalScore, 1.0)
	require.NotNil(t, score.Expectancy)
	assert.InDelta(t, 0.02, score.Expectancy.ExpectancyPerTrade, 1e-12)

	require.Len(t, state.Allocations, 1)
	assert.LessOrEqual(t, state.Metrics.TotalAllocated, 100000.0)
	assert.Equal(t, int64(1), state.Metrics.TickCount)

	var order []models.EventType
	for _, ev := range rec.events {
		order = append(order, ev.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventRegimeChange,             // started
		models.EventError, models.EventError, // BBB, CCC have no outcomes
		models.EventRegimeChange, models.EventRegimeChange, models.EventRegimeChange,
		models.EventScoreUpdate,
		models.EventAllocationChange,
	}, order)

	changes := rec.ofType(models.EventRegimeChange)[1:]
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, []string{changes[0].Instrument, changes[1].Instrument, changes[2].Instrument})
	payload, ok := changes[0].Payload.(models.RegimeChangePayload)
	require.True(t, ok)
	assert.Equal(t, models.RegimeMomentum, payload.Current)

	errs := rec.ofType(models.EventError)
	var ce *models.ComputationError
	require.True(t, errors.As(errs[0].Err, &ce))
	assert.Equal(t, "expectancy", ce.Stage)
	assert.Equal(t, "BBB", errs[0].Instrument)
}

func TestScenarioBInvalidInstrumentIsIsolated(t *testing.T) {
	c, sched, rec := newTestController(t)

	err := c.AddMarketData("X", models.MarketData{})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, rec.ofType(models.EventError), 1)
	assert.Equal(t, "X", rec.ofType(models.EventError)[0].Instrument)

	require.NoError(t, c.AddMarketData("GOOD", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.AddTradeOutcomes("GOOD", winningOutcomes(30)))
	require.NoError(t, c.Start())
	rec.reset()
	sched.Fire()

	errs := rec.ofType(models.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "X", errs[0].Instrument)
	assert.ErrorIs(t, errs[0].Err, models.ErrEmptyBars)

	state := c.GetState()
	assert.True(t, state.IsActive)
	assert.Contains(t, state.Scores, "GOOD")
	assert.NotContains(t, state.Scores, "X")
	assert.Len(t, rec.ofType(models.EventScoreUpdate), 1)
}

func TestScenarioCStartStopEmitsOnlyLifecycle(t *testing.T) {
	c, sched, rec := newTestController(t)

	require.NoError(t, c.Start())
	assert.True(t, sched.Active())
	assert.Equal(t, 60*time.Second, sched.Interval())
	require.NoError(t, c.Stop())
	assert.False(t, sched.Active())
	assert.False(t, sched.Fire())

	require.Len(t, rec.events, 2)
	assert.Equal(t, models.PhaseStarted, rec.events[0].LifecycleOf())
	assert.Equal(t, models.PhaseStopped, rec.events[1].LifecycleOf())
	for _, ev := range rec.events {
		assert.Equal(t, models.EventRegimeChange, ev.Type)
	}
	assert.False(t, c.GetState().IsActive)
}

func TestLifecycleMisuse(t *testing.T) {
	c, _, _ := newTestController(t)

	var lerr *models.LifecycleError
	require.True(t, errors.As(c.Stop(), &lerr))
	assert.ErrorIs(t, lerr, models.ErrNotActive)

	require.NoError(t, c.Start())
	err := c.Start()
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, models.ErrCodeAlreadyActive, lerr.Code)
}

func TestScenarioDConfigUpdates(t *testing.T) {
	c, _, _ := newTestController(t)

	maxPos := 3
	cfg, err := c.UpdateConfig(config.ConfigPatch{RiskManagement: &config.RiskManagementPatch{MaxPositions: &maxPos}})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RiskManagement.MaxPositions)
	assert.Equal(t, 3, c.GetConfig().RiskManagement.MaxPositions)

	_, err = c.UpdateConfig(config.ConfigPatch{TimeframeWeights: []config.TimeframeWeight{
		{Timeframe: models.TFH1, Weight: 0.5}, {Timeframe: models.TFD1, Weight: 0.4},
	}})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, c.GetConfig().TimeframeWeights, 3, "rejected patch leaves config unchanged")

	require.NoError(t, c.Start())
	other := 4
	_, err = c.UpdateConfig(config.ConfigPatch{RiskManagement: &config.RiskManagementPatch{MaxPositions: &other}})
	var lerr *models.LifecycleError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, models.ErrCodeActiveConfig, lerr.Code)
	assert.Equal(t, 3, c.GetConfig().RiskManagement.MaxPositions)
}

func TestInvalidInitialConfig(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Scoring.Weights.Expectancy = 0.9
	_, err := NewFrameworkController(cfg)
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestGetStateIsDefensiveCopy(t *testing.T) {
	c, sched, _ := newTestController(t)
	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.Start())
	sched.Fire()

	s1 := c.GetState()
	s1.Regimes["AAA"].DominantRegime = models.RegimeTransition
	s1.MarketData["AAA"].Bars[0].Close = -1
	s1.Scores["AAA"].Factors[0].Value = 42
	delete(s1.Scores, "AAA")
	s1.Allocations[0].AllocatedCapital = 1e12

	s2 := c.GetState()
	assert.Equal(t, models.RegimeMomentum, s2.Regimes["AAA"].DominantRegime)
	assert.Greater(t, s2.MarketData["AAA"].Bars[0].Close, 0.0)
	require.Contains(t, s2.Scores, "AAA")
	assert.NotEqual(t, 42.0, s2.Scores["AAA"].Factors[0].Value)
	assert.LessOrEqual(t, s2.Allocations[0].AllocatedCapital, 100000.0)

	cfg := c.GetConfig()
	cfg.TimeframeWeights[0].Weight = 9
	assert.NotEqual(t, 9.0, c.GetConfig().TimeframeWeights[0].Weight)
}

func TestFailedStageKeepsStaleRegime(t *testing.T) {
	c, sched, rec := newTestController(t)
	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.Start())
	sched.Fire()
	require.Equal(t, models.RegimeMomentum, c.GetState().Regimes["AAA"].DominantRegime)

	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(5, 0.01)}))
	rec.reset()
	sched.Fire()

	errs := rec.ofType(models.EventError)
	require.Len(t, errs, 1)
	var ce *models.ComputationError
	require.True(t, errors.As(errs[0].Err, &ce))
	assert.Equal(t, "regime", ce.Stage)
	assert.ErrorIs(t, errs[0].Err, models.ErrInsufficientData)
	assert.Equal(t, models.RegimeMomentum, c.GetState().Regimes["AAA"].DominantRegime)
	assert.Empty(t, rec.ofType(models.EventRegimeChange))
}

func TestTickWhileStoppedIsSkipped(t *testing.T) {
	c, _, _ := newTestController(t)
	assert.False(t, c.Tick(context.Background()))
	assert.Zero(t, c.GetState().Metrics.TickCount)
}

func TestUnchangedAllocationsEmitOnce(t *testing.T) {
	c, sched, rec := newTestController(t)
	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.Start())

	sched.Fire()
	sched.Fire()
	assert.Len(t, rec.ofType(models.EventAllocationChange), 1)
	assert.Len(t, rec.ofType(models.EventScoreUpdate), 2)
	assert.Len(t, rec.ofType(models.EventRegimeChange), 2, "lifecycle plus first classification")
}

func TestPositionsFollowTicks(t *testing.T) {
	c, sched, _ := newTestController(t)
	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	price := c.GetState().MarketData["AAA"].CurrentPrice

	p, err := c.OpenPosition(models.Position{
		Instrument: "AAA", Direction: models.Long, EntryPrice: price / 1.2, Quantity: 10,
		Stop: models.AdaptiveStopLoss{InitialStop: price / 1.2 * 0.95},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	sched.Fire()

	state := c.GetState()
	require.Len(t, state.Positions, 1)
	got := state.Positions[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, price, got.CurrentPrice)
	assert.Greater(t, got.Stop.CurrentStop, got.Stop.InitialStop)
	assert.InDelta(t, (price-p.EntryPrice)*10, state.Metrics.UnrealizedPnL, 1e-9)

	_, err = c.ClosePosition(p.ID)
	require.NoError(t, err)
	assert.Empty(t, c.GetState().Positions)
}

func TestAddTradeOutcomesValidates(t *testing.T) {
	c, _, _ := newTestController(t)
	bad := winningOutcomes(2)
	bad[1].EntryPrice = 0
	var verr *models.ValidationError
	require.True(t, errors.As(c.AddTradeOutcomes("AAA", bad), &verr))
	assert.Zero(t, c.OutcomeCount("AAA"))

	wrong := winningOutcomes(1)
	wrong[0].Instrument = "BBB"
	require.True(t, errors.As(c.AddTradeOutcomes("AAA", wrong), &verr))

	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(3)))
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(2)))
	assert.Equal(t, 5, c.OutcomeCount("AAA"))
}

// ingestingBins adds data and opens a position from inside the tick, the way
// a concurrent API call would land while a tick is running.
type ingestingBins struct {
	c    *FrameworkController
	once sync.Once
	pos  models.Position
	err  error
}

func (b *ingestingBins) GetStockData(context.Context, string, models.Timeframe) (*models.BinStatistics, error) {
	b.once.Do(func() {
		if b.err = b.c.AddMarketData("NEW", models.MarketData{Bars: trendBars(60, 0.005)}); b.err != nil {
			return
		}
		b.pos, b.err = b.c.OpenPosition(models.Position{
			Instrument: "NEW", Direction: models.Long, EntryPrice: 100, Quantity: 5,
			Stop: models.AdaptiveStopLoss{InitialStop: 95},
		})
	})
	return nil, models.ErrBinStatsNotFound
}

func TestIngestDuringTickIsNotLost(t *testing.T) {
	sched := &ManualScheduler{}
	bins := &ingestingBins{}
	c, err := NewFrameworkController(config.DefaultEngineConfig(),
		WithScheduler(sched), WithClock(fixedClock{t0}), WithBinStats(bins))
	require.NoError(t, err)
	bins.c = c

	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.Start())
	require.True(t, sched.Fire())
	require.NoError(t, bins.err)

	state := c.GetState()
	assert.Contains(t, state.MarketData, "AAA")
	assert.Contains(t, state.MarketData, "NEW", "data stored mid-tick stays visible")
	require.Len(t, state.Positions, 1)
	assert.Equal(t, bins.pos.ID, state.Positions[0].ID)
	assert.Equal(t, int64(1), state.Metrics.TickCount)

	// the next tick picks the new instrument up
	require.True(t, sched.Fire())
	assert.Contains(t, c.GetState().Regimes, "NEW")
}

func TestHandlersCannotCorruptTick(t *testing.T) {
	c, sched, rec := newTestController(t)
	require.NoError(t, c.AddMarketData("AAA", models.MarketData{Bars: trendBars(60, 0.01)}))
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.Start())
	rec.reset()

	var seen *models.FrameworkState
	c.On(models.EventScoreUpdate, func(models.Event) error {
		seen = c.GetState()
		return nil
	})
	c.On(models.EventScoreUpdate, func(models.Event) error {
		panic("subscriber bug")
	})
	var stopErr error
	c.On(models.EventScoreUpdate, func(models.Event) error {
		stopErr = c.Stop()
		return nil
	})

	require.True(t, sched.Fire())
	require.NoError(t, stopErr)

	require.NotNil(t, seen, "SCORE_UPDATE delivered")
	assert.Equal(t, int64(1), seen.Metrics.TickCount, "events follow the snapshot publish")
	assert.Contains(t, seen.Scores, "AAA")

	state := c.GetState()
	assert.False(t, state.IsActive)
	assert.False(t, c.IsActive())
	assert.Equal(t, int64(1), state.Metrics.TickCount)
	assert.Equal(t, int64(1), state.Metrics.DeliveryErrors)
	assert.Contains(t, state.Scores, "AAA")

	errs := rec.ofType(models.EventError)
	require.Len(t, errs, 1)
	var derr *models.DeliveryError
	assert.True(t, errors.As(errs[0].Err, &derr))

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, models.PhaseStopped, last.LifecycleOf(), "stop requested by a handler is delivered after the tick's events")
	assert.False(t, sched.Fire())
}

func TestLifecycleEventsKeepOrderUnderConcurrency(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, _, rec := newTestController(t)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Start()
		}()
		go func() {
			defer wg.Done()
			for c.Stop() != nil {
				runtime.Gosched()
			}
		}()
		wg.Wait()

		phases := make([]string, 0, 2)
		for _, ev := range rec.ofType(models.EventRegimeChange) {
			phases = append(phases, ev.LifecycleOf())
		}
		require.Equal(t, []string{models.PhaseStarted, models.PhaseStopped}, phases)
	}
}

func TestPercentileCoversStoredUniverse(t *testing.T) {
	c, sched, _ := newTestController(t)
	for _, inst := range []string{"AAA", "BBB", "CCC"} {
		require.NoError(t, c.AddMarketData(inst, models.MarketData{Bars: trendBars(60, 0.01)}))
	}
	require.NoError(t, c.AddTradeOutcomes("AAA", winningOutcomes(30)))
	require.NoError(t, c.AddTradeOutcomes("BBB", winningOutcomes(12)))
	require.NoError(t, c.Start())
	require.True(t, sched.Fire())

	scores := c.GetState().Scores
	require.Len(t, scores, 2)
	byRank := map[int]models.CompositeScore{}
	for _, s := range scores {
		byRank[s.Rank] = s
	}
	assert.Equal(t, 100.0, byRank[1].Percentile)
	assert.Equal(t, 50.0, byRank[2].Percentile, "CCC has no score but counts toward the universe")
}
