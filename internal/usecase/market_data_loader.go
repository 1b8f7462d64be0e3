package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	"SwingPulse/pkg/config"
	applogger "SwingPulse/pkg/logger"
)

// OutcomeSink accepts historical trade outcomes.
type OutcomeSink interface {
	AddTradeOutcomes(instrument string, outcomes []models.TradeOutcome) error
}

// LoaderTarget is what MarketDataLoader feeds.
type LoaderTarget interface {
	MarketDataSink
	OutcomeSink
	GetConfig() config.EngineConfig
}

// MarketDataLoader seeds the controller from persistent storage and keeps
// bars fresh on an interval. Outcomes are loaded incrementally by exit time.
type MarketDataLoader struct {
	target      LoaderTarget
	bars        domrepo.BarStore
	outcomes    domrepo.OutcomeStore
	instruments []string
	barsPerTF   int
	lookback    time.Duration
	refresh     time.Duration
	clock       Clock
	logger      *applogger.Logger

	mu    sync.Mutex
	since map[string]time.Time
}

// LoaderOption configures a MarketDataLoader.
type LoaderOption func(*MarketDataLoader)

// WithBarsPerTimeframe sets how many of the newest bars are loaded per timeframe.
func WithBarsPerTimeframe(n int) LoaderOption {
	return func(l *MarketDataLoader) {
		if n > 0 {
			l.barsPerTF = n
		}
	}
}

// WithOutcomeLookback bounds the first outcome load.
func WithOutcomeLookback(d time.Duration) LoaderOption {
	return func(l *MarketDataLoader) {
		if d > 0 {
			l.lookback = d
		}
	}
}

// WithRefreshInterval sets the Run period.
func WithRefreshInterval(d time.Duration) LoaderOption {
	return func(l *MarketDataLoader) {
		if d > 0 {
			l.refresh = d
		}
	}
}

// WithLoaderClock replaces the wall clock.
func WithLoaderClock(c Clock) LoaderOption {
	return func(l *MarketDataLoader) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(lg *applogger.Logger) LoaderOption {
	return func(l *MarketDataLoader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func NewMarketDataLoader(target LoaderTarget, bars domrepo.BarStore, outcomes domrepo.OutcomeStore, instruments []string, opts ...LoaderOption) *MarketDataLoader {
	l := &MarketDataLoader{
		target:      target,
		bars:        bars,
		outcomes:    outcomes,
		instruments: instruments,
		barsPerTF:   300,
		lookback:    3 * 365 * 24 * time.Hour,
		refresh:     5 * time.Minute,
		clock:       SystemClock{},
		logger:      applogger.NewNop(),
		since:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("loader")
	return l
}

// LoadOnce refreshes every instrument. Failures of one instrument do not
// stop the others; they are joined into the returned error.
func (l *MarketDataLoader) LoadOnce(ctx context.Context) error {
	cfg := l.target.GetConfig()
	var errs []error
	for _, inst := range l.instruments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.loadBars(ctx, inst, cfg); err != nil {
			errs = append(errs, err)
		}
		if err := l.loadOutcomes(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run calls LoadOnce every refresh interval until ctx is done.
func (l *MarketDataLoader) Run(ctx context.Context) {
	t := time.NewTicker(l.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.LoadOnce(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("refresh failed", applogger.Error(err))
			}
		}
	}
}

func (l *MarketDataLoader) loadBars(ctx context.Context, inst string, cfg config.EngineConfig) error {
	if l.bars == nil {
		return nil
	}
	var all []models.Bar
	for _, tw := range cfg.TimeframeWeights {
		bars, err := l.bars.GetLatestNBars(ctx, inst, l.barsPerTF, tw.Timeframe)
		if err != nil {
			return fmt.Errorf("load bars %s/%s: %w", inst, tw.Timeframe, err)
		}
		for i := range bars {
			bars[i].Timeframe = tw.Timeframe
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		l.logger.Debug("no stored bars", applogger.String("instrument", inst))
		return nil
	}
	if err := l.target.AddMarketData(inst, models.MarketData{Instrument: inst, Bars: all}); err != nil {
		return err
	}
	l.logger.Debug("bars loaded", applogger.String("instrument", inst), applogger.Int("bars", len(all)))
	return nil
}

func (l *MarketDataLoader) loadOutcomes(ctx context.Context, inst string) error {
	if l.outcomes == nil {
		return nil
	}
	l.mu.Lock()
	since, seen := l.since[inst]
	l.mu.Unlock()
	if !seen {
		since = l.clock.Now().Add(-l.lookback)
	}

	rows, err := l.outcomes.LoadOutcomes(ctx, inst, since)
	if err != nil {
		return fmt.Errorf("load outcomes %s: %w", inst, err)
	}
	fresh := rows[:0]
	last := since
	for _, o := range rows {
		if seen && !o.ExitTime.After(since) {
			continue
		}
		fresh = append(fresh, o)
		if o.ExitTime.After(last) {
			last = o.ExitTime
		}
	}
	if len(fresh) > 0 {
		if err := l.target.AddTradeOutcomes(inst, fresh); err != nil {
			return err
		}
		l.logger.Info("outcomes loaded", applogger.String("instrument", inst), applogger.Int("count", len(fresh)))
	}
	l.mu.Lock()
	l.since[inst] = last
	l.mu.Unlock()
	return nil
}
