package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/services/allocation"
	"SwingPulse/internal/services/expectancy"
	"SwingPulse/internal/services/features"
	"SwingPulse/internal/services/regime"
	"SwingPulse/internal/services/scoring"
	"SwingPulse/pkg/config"
	applogger "SwingPulse/pkg/logger"
)

// pipeline bundles the stage engines built from one config snapshot.
type pipeline struct {
	cfg        *config.EngineConfig
	classifier *regime.Classifier
	expectancy *expectancy.Engine
	scorer     *scoring.Scorer
	allocator  *allocation.Engine
}

func newPipeline(cfg *config.EngineConfig) pipeline {
	return pipeline{
		cfg:        cfg,
		classifier: regime.NewClassifier(cfg.Thresholds),
		expectancy: expectancy.NewEngine(cfg.Expectancy),
		scorer:     scoring.NewScorer(cfg.Scoring),
		allocator:  allocation.NewEngine(cfg.RiskManagement, cfg.Allocation),
	}
}

// tickEvents buffers a tick's events until the new state is published.
type tickEvents struct {
	errors  []models.Event
	regimes []models.Event
}

func (c *FrameworkController) scheduledTick() {
	c.Tick(context.Background())
}

// Tick runs one pass of the pipeline over every stored instrument. It
// reports false when the engine is stopped or another tick is in flight.
func (c *FrameworkController) Tick(ctx context.Context) bool {
	if !c.active.Load() {
		return false
	}
	if !c.ticking.CompareAndSwap(false, true) {
		c.logger.Debug("tick skipped, previous tick still running")
		return false
	}
	defer c.ticking.Store(false)
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	started := c.clock.Now()
	cfg := c.cfg.Load()
	p := newPipeline(cfg)
	gen := c.cfgGen.Load()

	snap := c.store.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf tickEvents
	rejected := c.store.Rejected()
	rejectedNames := make([]string, 0, len(rejected))
	for name := range rejected {
		rejectedNames = append(rejectedNames, name)
	}
	sort.Strings(rejectedNames)
	for _, name := range rejectedNames {
		buf.errors = append(buf.errors, models.NewErrorEvent(name, started, rejected[name]))
	}

	bins := make(map[string]*models.BinStatistics, len(names))
	failed := 0
	for _, name := range names {
		md := snap[name]
		bs := c.lookupBins(ctx, name, cfg.PrimaryTimeframe)
		bins[name] = bs
		if err := c.processInstrument(p, gen, name, md, bs, started, &buf); err != nil {
			failed++
			c.instrumentErrors.Add(1)
			c.metrics.RecordError(models.ErrorKind(err), stageOf(err))
			c.logger.Warn("instrument stage failed",
				applogger.String("instrument", name),
				applogger.Error(err))
			buf.errors = append(buf.errors, models.NewErrorEvent(name, started, err))
		}
	}

	for name := range c.scores {
		if _, ok := snap[name]; !ok {
			delete(c.scores, name)
		}
	}
	for name := range c.regimes {
		if _, ok := snap[name]; !ok {
			delete(c.regimes, name)
		}
	}

	current := make([]models.CompositeScore, 0, len(c.scores))
	for _, s := range c.scores {
		current = append(current, s)
	}
	ranked := scoring.RankWithin(current, len(names))
	for _, s := range ranked {
		c.scores[s.Instrument] = s
		c.metrics.SetScore(s.Instrument, s.TotalScore)
	}

	cands := make([]allocation.Candidate, 0, len(ranked))
	for _, s := range ranked {
		cand := allocation.Candidate{Score: s, Price: snap[s.Instrument].Price()}
		if bs := bins[s.Instrument]; bs != nil {
			cand.Bins = bs.Bins
			cand.CurrentBin = bs.BinFor(s.CurrentPercentile)
		}
		cands = append(cands, cand)
	}
	allocs := p.allocator.Allocate(cands, cfg.RiskManagement.TotalCapital)
	allocChanged := !sameAllocations(c.allocations, allocs)
	c.allocations = allocs
	totalAllocated, totalRisk := 0.0, 0.0
	for _, a := range allocs {
		totalAllocated += a.AllocatedCapital
		totalRisk += a.RiskAmount
		c.metrics.SetAllocation(a.Instrument, a.AllocatedCapital)
	}

	for _, name := range names {
		c.monitor.UpdatePrice(name, snap[name].Price(), started)
	}

	elapsed := c.clock.Now().Sub(started)
	ticks := c.tickCount.Add(1)
	c.metrics.ObserveTick(elapsed)

	regimes := make(map[string]*models.MultiTimeframeRegime, len(c.regimes))
	for name, r := range c.regimes {
		regimes[name] = r.Clone()
	}
	scores := make(map[string]models.CompositeScore, len(c.scores))
	for name, s := range c.scores {
		scores[name] = s.Clone()
	}
	c.publish(func(s *models.FrameworkState) {
		s.MarketData = c.marketDataView()
		c.setPositions(s)
		s.Regimes = regimes
		s.CurrentRegime = benchmarkRegime(cfg.Benchmark, regimes, ranked)
		s.Scores = scores
		s.Allocations = models.CloneAllocations(allocs)
		s.LastUpdate = started
		s.Metrics.TickCount = ticks
		s.Metrics.LastTickAt = started
		s.Metrics.LastTickDuration = elapsed
		s.Metrics.InstrumentsProcessed = len(names) - failed
		s.Metrics.InstrumentErrors = c.instrumentErrors.Load()
		s.Metrics.TotalAllocated = totalAllocated
		s.Metrics.TotalRisk = totalRisk
	})

	c.enqueue(buf.errors...)
	c.enqueue(buf.regimes...)
	if len(ranked) > 0 {
		out := make([]models.CompositeScore, len(ranked))
		for i, s := range ranked {
			out[i] = s.Clone()
		}
		c.enqueue(models.NewEvent(models.EventScoreUpdate, "", started, models.ScoreUpdatePayload{Scores: out}))
	}
	if allocChanged {
		c.enqueue(models.NewEvent(models.EventAllocationChange, "", started, models.AllocationChangePayload{
			Allocations:    models.CloneAllocations(allocs),
			TotalAllocated: totalAllocated,
			TotalRisk:      totalRisk,
		}))
	}
	c.drain()

	c.logger.Debug("tick complete",
		applogger.Int64("tick", ticks),
		applogger.Int("instruments", len(names)),
		applogger.Int("failed", failed),
		applogger.Int("allocations", len(allocs)),
		applogger.Duration("elapsed_ms", elapsed))
	return true
}

// processInstrument runs regime, expectancy and scoring for one instrument.
// On failure the previous regime or score is kept.
func (c *FrameworkController) processInstrument(p pipeline, gen uint64, name string, md *models.MarketData, bs *models.BinStatistics, now time.Time, buf *tickEvents) error {
	reg, err := c.classify(p, name, md, now)
	if err != nil {
		return err
	}
	prev := c.regimes[name]
	c.regimes[name] = reg
	if prev == nil || prev.DominantRegime != reg.DominantRegime {
		var from models.RegimeType
		if prev != nil {
			from = prev.DominantRegime
		}
		buf.regimes = append(buf.regimes, models.NewEvent(models.EventRegimeChange, name, now, models.RegimeChangePayload{
			Previous: from,
			Current:  reg.DominantRegime,
			Regime:   reg.Clone(),
		}))
	}

	pct := currentPercentile(p.cfg.PrimaryTimeframe, md, bs)
	var bin *models.PercentileBin
	if bs != nil {
		bin = bs.BinFor(pct)
	}

	m := c.expectancyFor(p, gen, name, reg.DominantRegime, bin)
	if m == nil {
		return &models.ComputationError{
			Code: models.ErrCodeNoSamples, Instrument: name, Stage: "expectancy",
			Message: "no trade outcomes available", Err: models.ErrNoSamples,
		}
	}

	score, err := p.scorer.Score(scoring.Input{
		Instrument:        name,
		Expectancy:        m,
		CurrentPercentile: pct,
		Bin:               bin,
		Regime:            reg.DominantRegime,
		Timestamp:         now,
	})
	if err != nil {
		return &models.ComputationError{Code: models.ErrCodeInvalidInput, Instrument: name, Stage: "scoring", Message: "score failed", Err: err}
	}
	c.scores[name] = score
	return nil
}

func (c *FrameworkController) classify(p pipeline, name string, md *models.MarketData, now time.Time) (*models.MultiTimeframeRegime, error) {
	signals := make([]models.RegimeSignal, 0, len(p.cfg.TimeframeWeights))
	var lastErr error
	for _, w := range p.cfg.TimeframeWeights {
		bars := md.BarsFor(w.Timeframe, p.cfg.PrimaryTimeframe)
		if len(bars) == 0 {
			continue
		}
		sig, err := p.classifier.Classify(bars, w.Timeframe, now)
		if err != nil {
			lastErr = err
			continue
		}
		signals = append(signals, sig)
	}
	reg, err := regime.Aggregate(name, signals, p.cfg.TimeframeWeights, now)
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		return nil, &models.ComputationError{
			Code: models.ErrCodeInsufficientData, Instrument: name, Stage: "regime",
			Message: "no timeframe could be classified", Err: err,
		}
	}
	return reg, nil
}

func (c *FrameworkController) expectancyFor(p pipeline, gen uint64, name string, rt models.RegimeType, bin *models.PercentileBin) *models.ExpectancyMetrics {
	outcomes, version := c.outcomesFor(name)
	ref := ""
	if bin != nil {
		ref = bin.DefaultLabel()
	}
	key := fmt.Sprintf("%d|%d|%s|%s", gen, version, rt, ref)
	if hit, ok := c.expCache[name]; ok && hit.key == key {
		return hit.metrics
	}
	m := p.expectancy.ForRegime(name, outcomes, rt, bin)
	c.expCache[name] = cachedExpectancy{key: key, metrics: m}
	return m
}

func (c *FrameworkController) lookupBins(ctx context.Context, name string, tf models.Timeframe) *models.BinStatistics {
	if c.binStats == nil {
		return nil
	}
	bs, err := c.binStats.GetStockData(ctx, name, tf)
	if err != nil {
		if !errors.Is(err, models.ErrBinStatsNotFound) {
			c.logger.Warn("bin statistics unavailable",
				applogger.String("instrument", name),
				applogger.Error(err))
		}
		return nil
	}
	return bs
}

// currentPercentile prefers the provider's percentile and otherwise ranks the
// current price within the primary timeframe closes.
func currentPercentile(primary models.Timeframe, md *models.MarketData, bs *models.BinStatistics) float64 {
	if bs != nil && bs.CurrentPercentile != nil {
		return features.Clamp(*bs.CurrentPercentile, 0, 100)
	}
	bars := md.BarsFor(primary, primary)
	if len(bars) == 0 {
		bars = md.Bars
	}
	return features.PercentileRank(models.Closes(bars), md.Price())
}

// benchmarkRegime is the benchmark's regime, or the top-ranked instrument's
// when the benchmark is not tracked.
func benchmarkRegime(benchmark string, regimes map[string]*models.MultiTimeframeRegime, ranked []models.CompositeScore) *models.MultiTimeframeRegime {
	if r, ok := regimes[benchmark]; ok {
		return r
	}
	for _, s := range ranked {
		if r, ok := regimes[s.Instrument]; ok {
			return r
		}
	}
	return nil
}

func sameAllocations(a, b []models.AllocationDecision) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Instrument != b[i].Instrument ||
			a[i].PositionSize != b[i].PositionSize ||
			a[i].AllocatedCapital != b[i].AllocatedCapital {
			return false
		}
	}
	return true
}

func stageOf(err error) string {
	var ce *models.ComputationError
	if errors.As(err, &ce) {
		return ce.Stage
	}
	return "tick"
}
