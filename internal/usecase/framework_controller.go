package usecase

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	"SwingPulse/internal/events"
	"SwingPulse/internal/repository"
	"SwingPulse/internal/services/positions"
	"SwingPulse/pkg/config"
	applogger "SwingPulse/pkg/logger"
	"SwingPulse/pkg/metrics"
)

var validate = validator.New()

// FrameworkController owns the engine lifecycle: it ingests market data and
// trade outcomes, runs the per-tick pipeline and publishes immutable state
// snapshots and ordered events.
type FrameworkController struct {
	cfg    atomic.Pointer[config.EngineConfig]
	cfgGen atomic.Uint64

	mu     sync.Mutex // serializes Start, Stop and UpdateConfig
	active atomic.Bool
	cancel func()

	ticking atomic.Bool
	tickMu  sync.Mutex

	stateMu sync.Mutex
	state   atomic.Pointer[models.FrameworkState]

	// events are delivered one at a time, in enqueue order
	emitMu   sync.Mutex
	pending  []models.Event
	draining bool

	store   *repository.MarketDataStore
	bus     *events.Bus
	monitor *positions.Monitor

	outcomesMu sync.RWMutex
	outcomes   map[string][]models.TradeOutcome
	versions   map[string]uint64

	// guarded by tickMu
	regimes     map[string]*models.MultiTimeframeRegime
	scores      map[string]models.CompositeScore
	allocations []models.AllocationDecision
	expCache    map[string]cachedExpectancy

	eventsDelivered  atomic.Int64
	deliveryErrors   atomic.Int64
	instrumentErrors atomic.Int64
	tickCount        atomic.Int64

	binStats  domrepo.BinStatsProvider
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	scheduler Scheduler
	clock     Clock
}

type cachedExpectancy struct {
	key     string
	metrics *models.ExpectancyMetrics
}

// ControllerOption customises a FrameworkController.
type ControllerOption func(*FrameworkController)

// WithScheduler replaces the default TickerScheduler.
func WithScheduler(s Scheduler) ControllerOption {
	return func(c *FrameworkController) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) ControllerOption {
	return func(c *FrameworkController) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBinStats sets the percentile-bin statistics provider.
func WithBinStats(p domrepo.BinStatsProvider) ControllerOption {
	return func(c *FrameworkController) { c.binStats = p }
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m domrepo.Metrics) ControllerOption {
	return func(c *FrameworkController) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) ControllerOption {
	return func(c *FrameworkController) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFrameworkController validates cfg and returns an inactive controller.
func NewFrameworkController(cfg config.EngineConfig, opts ...ControllerOption) (*FrameworkController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &models.ValidationError{
			Code: models.ErrCodeInvalidConfig, Field: "config",
			Message: "invalid engine configuration", Err: err,
		}
	}
	c := &FrameworkController{
		store:     repository.NewMarketDataStore(),
		outcomes:  make(map[string][]models.TradeOutcome),
		versions:  make(map[string]uint64),
		regimes:   make(map[string]*models.MultiTimeframeRegime),
		scores:    make(map[string]models.CompositeScore),
		expCache:  make(map[string]cachedExpectancy),
		metrics:   metrics.Noop{},
		logger:    applogger.NewNop(),
		scheduler: TickerScheduler{},
		clock:     SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("controller")
	c.bus = events.NewBus(
		events.WithLogger(c.logger.Named("events")),
		events.WithMetrics(c.metrics),
		events.WithClock(c.clock.Now),
	)
	c.monitor = positions.NewMonitor(cfg.Stops)

	own := cfg.Clone()
	c.cfg.Store(&own)
	c.state.Store(models.NewFrameworkState())
	return c, nil
}

// Start activates the engine and schedules ticks.
func (c *FrameworkController) Start() error {
	c.mu.Lock()
	if c.active.Load() {
		c.mu.Unlock()
		return &models.LifecycleError{
			Code: models.ErrCodeAlreadyActive, Op: "start",
			Message: "engine is already running", Err: models.ErrAlreadyActive,
		}
	}
	cfg := c.cfg.Load()
	c.active.Store(true)
	c.enqueue(models.NewEvent(models.EventRegimeChange, "", c.clock.Now(), models.LifecyclePayload{Phase: models.PhaseStarted}))
	c.cancel = c.scheduler.Schedule(cfg.UpdateInterval, c.scheduledTick)
	c.publish(func(*models.FrameworkState) {})
	c.mu.Unlock()

	c.logger.Info("engine started",
		applogger.Duration("update_interval_ms", cfg.UpdateInterval),
		applogger.String("primary_timeframe", string(cfg.PrimaryTimeframe)))
	c.drain()
	return nil
}

// Stop halts scheduling. A tick already in flight runs to completion.
func (c *FrameworkController) Stop() error {
	c.mu.Lock()
	if !c.active.Load() {
		c.mu.Unlock()
		return &models.LifecycleError{
			Code: models.ErrCodeNotActive, Op: "stop",
			Message: "engine is not running", Err: models.ErrNotActive,
		}
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.active.Store(false)
	c.enqueue(models.NewEvent(models.EventRegimeChange, "", c.clock.Now(), models.LifecyclePayload{Phase: models.PhaseStopped}))
	c.publish(func(*models.FrameworkState) {})
	c.mu.Unlock()

	c.logger.Info("engine stopped", applogger.Int64("ticks", c.tickCount.Load()))
	c.drain()
	return nil
}

// IsActive reports whether ticks are scheduled.
func (c *FrameworkController) IsActive() bool { return c.active.Load() }

// GetState returns a deep copy of the latest published snapshot.
func (c *FrameworkController) GetState() *models.FrameworkState {
	return c.state.Load().Clone()
}

// GetConfig returns a copy of the current configuration.
func (c *FrameworkController) GetConfig() config.EngineConfig {
	return c.cfg.Load().Clone()
}

// UpdateConfig applies patch while the engine is stopped.
func (c *FrameworkController) UpdateConfig(patch config.ConfigPatch) (config.EngineConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active.Load() {
		return config.EngineConfig{}, &models.LifecycleError{
			Code: models.ErrCodeActiveConfig, Op: "update_config",
			Message: "stop the engine before changing its configuration", Err: models.ErrAlreadyActive,
		}
	}
	prev := c.cfg.Load()
	next := prev.Apply(patch)
	if err := next.Validate(); err != nil {
		return config.EngineConfig{}, &models.ValidationError{
			Code: models.ErrCodeInvalidConfig, Field: "config",
			Message: "invalid engine configuration", Err: err,
		}
	}
	if next.LogLevel != prev.LogLevel {
		if err := applogger.SetLevel(next.LogLevel); err != nil {
			c.logger.Warn("log level not applied", applogger.Error(err))
		}
	}
	c.cfg.Store(&next)
	c.cfgGen.Add(1)
	c.monitor.SetConfig(next.Stops)
	c.logger.Info("configuration updated",
		applogger.Duration("update_interval_ms", next.UpdateInterval),
		applogger.Int("max_positions", next.RiskManagement.MaxPositions))
	return next.Clone(), nil
}

// AddMarketData validates and stores data for instrument. Invalid data is
// returned as a *models.ValidationError and reported as an ERROR event.
func (c *FrameworkController) AddMarketData(instrument string, data models.MarketData) error {
	cfg := c.cfg.Load()
	now := c.clock.Now()
	if err := c.store.Add(instrument, data, cfg.PrimaryTimeframe, now); err != nil {
		c.metrics.RecordError(models.ErrorKind(err), "ingest")
		c.logger.Warn("market data rejected",
			applogger.String("instrument", instrument),
			applogger.Error(err))
		c.emit(models.NewErrorEvent(instrument, now, err))
		return err
	}
	c.publish(func(s *models.FrameworkState) { s.MarketData = c.marketDataView() })
	return nil
}

// RemoveInstrument forgets an instrument's market data. Its regime and score
// are dropped on the next tick.
func (c *FrameworkController) RemoveInstrument(instrument string) bool {
	if !c.store.Remove(instrument) {
		return false
	}
	c.publish(func(s *models.FrameworkState) { s.MarketData = c.marketDataView() })
	return true
}

// AddTradeOutcomes appends outcomes to the instrument's history.
func (c *FrameworkController) AddTradeOutcomes(instrument string, outcomes []models.TradeOutcome) error {
	if instrument == "" {
		return &models.ValidationError{Code: models.ErrCodeInvalidInput, Field: "instrument", Message: "instrument is required"}
	}
	batch := make([]models.TradeOutcome, 0, len(outcomes))
	for i, o := range outcomes {
		if o.Instrument == "" {
			o.Instrument = instrument
		}
		if o.Instrument != instrument {
			return &models.ValidationError{
				Code: models.ErrCodeInvalidInput, Instrument: instrument, Field: fmt.Sprintf("outcomes[%d].instrument", i),
				Message: fmt.Sprintf("outcome belongs to %s", o.Instrument),
			}
		}
		if err := validate.Struct(o); err != nil {
			return &models.ValidationError{
				Code: models.ErrCodeInvalidInput, Instrument: instrument, Field: fmt.Sprintf("outcomes[%d]", i),
				Message: "invalid trade outcome", Err: err,
			}
		}
		batch = append(batch, o)
	}
	if len(batch) == 0 {
		return nil
	}
	c.outcomesMu.Lock()
	c.outcomes[instrument] = append(c.outcomes[instrument], batch...)
	c.versions[instrument]++
	c.outcomesMu.Unlock()
	return nil
}

// OutcomeCount returns the size of an instrument's outcome history.
func (c *FrameworkController) OutcomeCount(instrument string) int {
	c.outcomesMu.RLock()
	defer c.outcomesMu.RUnlock()
	return len(c.outcomes[instrument])
}

func (c *FrameworkController) outcomesFor(instrument string) ([]models.TradeOutcome, uint64) {
	c.outcomesMu.RLock()
	defer c.outcomesMu.RUnlock()
	h := c.outcomes[instrument]
	// histories are append-only; the slice header pins this version
	return h[:len(h):len(h)], c.versions[instrument]
}

// OpenPosition starts monitoring a position.
func (c *FrameworkController) OpenPosition(p models.Position) (models.Position, error) {
	opened, err := c.monitor.Open(p, c.clock.Now())
	if err != nil {
		return models.Position{}, err
	}
	c.publishPositions()
	return opened, nil
}

// ClosePosition stops monitoring a position.
func (c *FrameworkController) ClosePosition(id string) (models.Position, error) {
	closed, err := c.monitor.Close(id)
	if err != nil {
		return models.Position{}, err
	}
	c.publishPositions()
	return closed, nil
}

func (c *FrameworkController) publishPositions() {
	c.publish(c.setPositions)
}

// setPositions and marketDataView read their sources at publish time, under
// stateMu, so a later publish never shows older data than an earlier one.
func (c *FrameworkController) setPositions(s *models.FrameworkState) {
	ps := c.monitor.Positions()
	s.Positions = ps
	s.Metrics.UnrealizedPnL = totalPnL(ps)
}

func (c *FrameworkController) marketDataView() map[string]models.MarketData {
	snap := c.store.Snapshot()
	md := make(map[string]models.MarketData, len(snap))
	for name, d := range snap {
		md[name] = d.Clone()
	}
	return md
}

// On subscribes to one event type.
func (c *FrameworkController) On(t models.EventType, h events.Handler) events.SubscriptionID {
	return c.bus.On(t, h)
}

// OnAll subscribes to every event type.
func (c *FrameworkController) OnAll(h events.Handler) events.SubscriptionID {
	return c.bus.OnAll(h)
}

// Off removes a subscription; use an empty type for OnAll subscriptions.
func (c *FrameworkController) Off(t models.EventType, id events.SubscriptionID) bool {
	return c.bus.Off(t, id)
}

func (c *FrameworkController) emit(evs ...models.Event) {
	c.enqueue(evs...)
	c.drain()
}

func (c *FrameworkController) enqueue(evs ...models.Event) {
	if len(evs) == 0 {
		return
	}
	c.emitMu.Lock()
	c.pending = append(c.pending, evs...)
	c.emitMu.Unlock()
}

// drain delivers queued events unless another call is already doing so; that
// call picks up whatever was queued meanwhile, including events emitted by
// handlers.
func (c *FrameworkController) drain() {
	c.emitMu.Lock()
	if c.draining {
		c.emitMu.Unlock()
		return
	}
	c.draining = true
	delivered := false
	for len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending[0] = models.Event{}
		c.pending = c.pending[1:]
		c.emitMu.Unlock()

		failed := c.bus.Publish(ev)
		c.eventsDelivered.Add(1)
		c.deliveryErrors.Add(int64(failed))
		delivered = true

		c.emitMu.Lock()
	}
	c.draining = false
	c.emitMu.Unlock()

	if delivered {
		// refresh delivery counters
		c.publish(func(*models.FrameworkState) {})
	}
}

// publish swaps in a new state built from the current one. Values reachable
// from a published state are never mutated, so a shallow copy suffices.
func (c *FrameworkController) publish(mutate func(*models.FrameworkState)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	next := *c.state.Load()
	mutate(&next)
	next.IsActive = c.active.Load()
	next.Metrics.EventsDelivered = c.eventsDelivered.Load()
	next.Metrics.DeliveryErrors = c.deliveryErrors.Load()
	c.state.Store(&next)
}

func totalPnL(ps []models.Position) float64 {
	sum := 0.0
	for _, p := range ps {
		sum += p.UnrealizedPnL
	}
	return sum
}
