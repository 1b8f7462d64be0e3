package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	"SwingPulse/internal/service/ratelimit"
	"SwingPulse/pkg/config"
	xhttp "SwingPulse/pkg/http"
	xlogger "SwingPulse/pkg/logger"
)

// Engine is the controller surface exposed over HTTP.
type Engine interface {
	Start() error
	Stop() error
	IsActive() bool
	Tick(ctx context.Context) bool
	GetState() *models.FrameworkState
	GetConfig() config.EngineConfig
	UpdateConfig(patch config.ConfigPatch) (config.EngineConfig, error)
	AddMarketData(instrument string, data models.MarketData) error
	RemoveInstrument(instrument string) bool
	AddTradeOutcomes(instrument string, outcomes []models.TradeOutcome) error
	OpenPosition(p models.Position) (models.Position, error)
	ClosePosition(id string) (models.Position, error)
}

// BinStatsWriter stores percentile-bin tables.
type BinStatsWriter interface {
	Put(ctx context.Context, s models.BinStatistics) error
}

// FrameworkEchoHandler serves the engine control API.
type FrameworkEchoHandler struct {
	logger   *xlogger.Logger
	engine   Engine
	outcomes domrepo.OutcomeStore
	bins     BinStatsWriter
	metrics  domrepo.Metrics
	ingest   *ratelimit.Limiter
}

// NewFrameworkEchoHandler builds the handler. outcomes and bins may be nil;
// posted outcomes are then kept in memory only and bin uploads are rejected.
func NewFrameworkEchoHandler(logger *xlogger.Logger, engine Engine, outcomes domrepo.OutcomeStore, bins BinStatsWriter, m domrepo.Metrics) *FrameworkEchoHandler {
	return &FrameworkEchoHandler{logger: logger.Named("api"), engine: engine, outcomes: outcomes, bins: bins, metrics: m}
}

// WithIngestLimit throttles market-data posts per instrument.
func (h *FrameworkEchoHandler) WithIngestLimit(l *ratelimit.Limiter) *FrameworkEchoHandler {
	h.ingest = l
	return h
}

func (h *FrameworkEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/state", h.State)
	g.GET("/scores", h.Scores)
	g.GET("/config", h.Config)
	g.PATCH("/config", h.PatchConfig)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.POST("/tick", h.Tick)
	g.POST("/market-data/:instrument", h.AddMarketData)
	g.DELETE("/market-data/:instrument", h.RemoveInstrument)
	g.POST("/outcomes/:instrument", h.AddOutcomes)
	g.GET("/positions", h.Positions)
	g.POST("/positions", h.OpenPosition)
	g.DELETE("/positions/:id", h.ClosePosition)
	g.PUT("/bins/:instrument/:timeframe", h.PutBins)
}

func (h *FrameworkEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{"active": h.engine.IsActive()})
}

func (h *FrameworkEchoHandler) State(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.GetState())
}

// Scores returns the latest scores ordered by rank.
func (h *FrameworkEchoHandler) Scores(c echo.Context) error {
	st := h.engine.GetState()
	out := make([]models.CompositeScore, 0, len(st.Scores))
	for _, s := range st.Scores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return xhttp.SuccessResponse(c, out)
}

func (h *FrameworkEchoHandler) Config(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.GetConfig())
}

func (h *FrameworkEchoHandler) PatchConfig(c echo.Context) error {
	var patch config.ConfigPatch
	if errs := xhttp.ReadAndValidateRequest(c, &patch); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	cfg, err := h.engine.UpdateConfig(patch)
	if err != nil {
		return h.fail(c, "update config", err)
	}
	return xhttp.SuccessResponse(c, cfg)
}

func (h *FrameworkEchoHandler) Start(c echo.Context) error {
	if err := h.engine.Start(); err != nil {
		return h.fail(c, "start", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"active": true})
}

func (h *FrameworkEchoHandler) Stop(c echo.Context) error {
	if err := h.engine.Stop(); err != nil {
		return h.fail(c, "stop", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"active": false})
}

// Tick runs one pipeline pass now. ran is false when the engine is stopped
// or a pass is already in flight.
func (h *FrameworkEchoHandler) Tick(c echo.Context) error {
	ran := h.engine.Tick(c.Request().Context())
	return xhttp.SuccessResponse(c, map[string]interface{}{"ran": ran})
}

func (h *FrameworkEchoHandler) AddMarketData(c echo.Context) error {
	inst := instrumentParam(c)
	if !h.ingest.Allow(inst) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsErrorf("market data for %s is arriving too fast", inst))
	}
	var data models.MarketData
	if errs := xhttp.ReadAndValidateRequest(c, &data); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	if data.Instrument == "" {
		data.Instrument = inst
	}
	if err := h.engine.AddMarketData(inst, data); err != nil {
		return h.fail(c, "add market data", err)
	}
	h.metrics.RecordIngest("http", inst)
	return xhttp.AcceptedResponse(c, map[string]interface{}{"instrument": inst, "bars": len(data.Bars)})
}

func (h *FrameworkEchoHandler) RemoveInstrument(c echo.Context) error {
	inst := instrumentParam(c)
	if !h.engine.RemoveInstrument(inst) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no market data for %s", inst))
	}
	h.ingest.Forget(inst)
	return xhttp.SuccessResponse(c, map[string]interface{}{"instrument": inst})
}

// AddOutcomes appends outcomes to the engine and, when a store is configured,
// persists them.
func (h *FrameworkEchoHandler) AddOutcomes(c echo.Context) error {
	inst := instrumentParam(c)
	var req outcomesRequest
	if errs := xhttp.ReadAndValidateRequest(c, &req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	outcomes := req.Outcomes
	if err := h.engine.AddTradeOutcomes(inst, outcomes); err != nil {
		return h.fail(c, "add outcomes", err)
	}
	if h.outcomes != nil {
		for i := range outcomes {
			outcomes[i].Instrument = inst
		}
		if err := h.outcomes.SaveOutcomes(c.Request().Context(), outcomes); err != nil {
			h.logger.Error("persist outcomes", xlogger.String("instrument", inst), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("outcomes accepted but not persisted").WithError(err))
		}
	}
	return xhttp.AcceptedResponse(c, map[string]interface{}{"instrument": inst, "count": len(outcomes)})
}

func (h *FrameworkEchoHandler) Positions(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.GetState().Positions)
}

func (h *FrameworkEchoHandler) OpenPosition(c echo.Context) error {
	var req openPositionRequest
	if errs := xhttp.ReadAndValidateRequest(c, &req); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	opened, err := h.engine.OpenPosition(req.position())
	if err != nil {
		return h.fail(c, "open position", err)
	}
	return xhttp.DataResponse(c, http.StatusCreated, opened)
}

func (h *FrameworkEchoHandler) ClosePosition(c echo.Context) error {
	closed, err := h.engine.ClosePosition(c.Param("id"))
	if err != nil {
		return h.fail(c, "close position", err)
	}
	return xhttp.SuccessResponse(c, closed)
}

func (h *FrameworkEchoHandler) PutBins(c echo.Context) error {
	if h.bins == nil {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("ERR_NO_BIN_STORE", "bin statistics store is not configured"))
	}
	var s models.BinStatistics
	if errs := xhttp.ReadAndValidateRequest(c, &s); errs != nil {
		return xhttp.BadRequestResponse(c, errs)
	}
	s.Ticker = instrumentParam(c)
	s.Timeframe = models.Timeframe(strings.ToUpper(c.Param("timeframe")))
	if err := h.bins.Put(c.Request().Context(), s); err != nil {
		return h.fail(c, "put bins", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"ticker": s.Ticker, "timeframe": s.Timeframe, "bins": len(s.Bins)})
}

func instrumentParam(c echo.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("instrument")))
}

// fail maps engine errors onto HTTP statuses.
func (h *FrameworkEchoHandler) fail(c echo.Context, op string, err error) error {
	var (
		ve *models.ValidationError
		le *models.LifecycleError
	)
	switch {
	case errors.As(err, &ve):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(string(ve.Code), ve.Field, ve.Error()).WithError(err))
	case errors.As(err, &le):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(string(le.Code), le.Message).WithError(err))
	case errors.Is(err, models.ErrPositionNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err))
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
	}
}
