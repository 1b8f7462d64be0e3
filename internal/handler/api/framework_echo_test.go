package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPulse/internal/domain/models"
	"SwingPulse/internal/repository"
	"SwingPulse/internal/service/cache"
	"SwingPulse/internal/service/ratelimit"
	"SwingPulse/internal/usecase"
	"SwingPulse/pkg/config"
	xlogger "SwingPulse/pkg/logger"
	"SwingPulse/pkg/metrics"
)

type savedOutcomes struct {
	rows []models.TradeOutcome
}

func (s *savedOutcomes) LoadOutcomes(context.Context, string, time.Time) ([]models.TradeOutcome, error) {
	return s.rows, nil
}

func (s *savedOutcomes) SaveOutcomes(_ context.Context, os []models.TradeOutcome) error {
	s.rows = append(s.rows, os...)
	return nil
}

func (s *savedOutcomes) Health(context.Context) error { return nil }

type apiFixture struct {
	e        *echo.Echo
	ctrl     *usecase.FrameworkController
	outcomes *savedOutcomes
}

func newFixture(t *testing.T, bins BinStatsWriter) *apiFixture {
	t.Helper()
	ctrl, err := usecase.NewFrameworkController(config.DefaultEngineConfig(), usecase.WithScheduler(&usecase.ManualScheduler{}))
	require.NoError(t, err)
	store := &savedOutcomes{}
	e := echo.New()
	NewFrameworkEchoHandler(xlogger.NewNop(), ctrl, store, bins, metrics.Noop{}).RegisterRoutes(e)
	return &apiFixture{e: e, ctrl: ctrl, outcomes: store}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func bars(n int) []models.Bar {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		c := 100 + float64(i)
		out[i] = models.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10, Timestamp: start.AddDate(0, 0, i)}
	}
	return out
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusOK, code)
	code, body := f.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.EqualValues(t, http.StatusConflict, body["status"])

	benchmark := "QQQ"
	code, _ = f.do(t, http.MethodPatch, "/api/config", config.ConfigPatch{Benchmark: &benchmark})
	assert.Equal(t, http.StatusConflict, code, "config is frozen while active")

	code, _ = f.do(t, http.MethodPost, "/api/stop", nil)
	assert.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodPatch, "/api/config", config.ConfigPatch{Benchmark: &benchmark})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "QQQ", body["data"].(map[string]interface{})["benchmark"])
	assert.Equal(t, "QQQ", f.ctrl.GetConfig().Benchmark)

	code, body = f.do(t, http.MethodPatch, "/api/config", map[string]interface{}{"logLevel": "loud", "updateInterval": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	fields := map[string]bool{}
	for _, e := range body["data"].([]interface{}) {
		fields[e.(map[string]interface{})["field"].(string)] = true
	}
	assert.True(t, fields["logLevel"])
	assert.True(t, fields["updateInterval"])

	code, body = f.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 60000, body["data"].(map[string]interface{})["updateInterval"])

	code, body = f.do(t, http.MethodPost, "/api/tick", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]interface{})["ran"])
}

func TestMarketDataEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/market-data/aapl", models.MarketData{Bars: bars(40)})
	assert.Equal(t, http.StatusAccepted, code)
	_, ok := f.ctrl.GetState().MarketData["AAPL"]
	assert.True(t, ok)

	code, body := f.do(t, http.MethodPost, "/api/market-data/msft", models.MarketData{})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, string(models.ErrCodeEmptyBars), errs[0].(map[string]interface{})["code"])

	code, _ = f.do(t, http.MethodDelete, "/api/market-data/AAPL", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/api/market-data/AAPL", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMarketDataIsThrottledPerInstrument(t *testing.T) {
	ctrl, err := usecase.NewFrameworkController(config.DefaultEngineConfig(), usecase.WithScheduler(&usecase.ManualScheduler{}))
	require.NoError(t, err)
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(1, 1).WithClock(func() time.Time { return now })
	e := echo.New()
	NewFrameworkEchoHandler(xlogger.NewNop(), ctrl, nil, nil, metrics.Noop{}).WithIngestLimit(limiter).RegisterRoutes(e)
	f := &apiFixture{e: e, ctrl: ctrl}

	code, _ := f.do(t, http.MethodPost, "/api/market-data/AAPL", models.MarketData{Bars: bars(40)})
	assert.Equal(t, http.StatusAccepted, code)
	code, body := f.do(t, http.MethodPost, "/api/market-data/aapl", models.MarketData{Bars: bars(40)})
	assert.Equal(t, http.StatusTooManyRequests, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, "ERR_RATE_LIMITED", errs[0].(map[string]interface{})["code"])

	code, _ = f.do(t, http.MethodPost, "/api/market-data/MSFT", models.MarketData{Bars: bars(40)})
	assert.Equal(t, http.StatusAccepted, code)

	now = now.Add(time.Second)
	code, _ = f.do(t, http.MethodPost, "/api/market-data/AAPL", models.MarketData{Bars: bars(40)})
	assert.Equal(t, http.StatusAccepted, code)
}

func TestOutcomesArePersisted(t *testing.T) {
	f := newFixture(t, nil)
	outs := []models.TradeOutcome{
		{EntryPrice: 100, ExitPrice: 103, HoldingDays: 4, Return: 0.03, EntryPercentile: 5, ExitPercentile: 60},
	}
	code, _ := f.do(t, http.MethodPost, "/api/outcomes/spy", map[string]interface{}{"outcomes": outs})
	assert.Equal(t, http.StatusAccepted, code)
	require.Len(t, f.outcomes.rows, 1)
	assert.Equal(t, "SPY", f.outcomes.rows[0].Instrument)
	assert.Equal(t, 1, f.ctrl.OutcomeCount("SPY"))

	bad := []models.TradeOutcome{{EntryPrice: -1, ExitPrice: 1}}
	code, body := f.do(t, http.MethodPost, "/api/outcomes/spy", map[string]interface{}{"outcomes": bad})
	assert.Equal(t, http.StatusBadRequest, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, "outcomes[0].entryPrice", errs[0].(map[string]interface{})["field"])

	code, _ = f.do(t, http.MethodPost, "/api/outcomes/spy", map[string]interface{}{"outcomes": []models.TradeOutcome{}})
	assert.Equal(t, http.StatusBadRequest, code, "empty batch")

	foreign := []models.TradeOutcome{{Instrument: "QQQ", EntryPrice: 100, ExitPrice: 101, Return: 0.01}}
	code, _ = f.do(t, http.MethodPost, "/api/outcomes/spy", map[string]interface{}{"outcomes": foreign})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Len(t, f.outcomes.rows, 1)
}

func TestPositionEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	p := models.Position{
		Instrument: "aapl", Direction: models.Long, EntryPrice: 100, Quantity: 10,
		Stop: models.AdaptiveStopLoss{InitialStop: 95},
	}
	code, body := f.do(t, http.MethodPost, "/api/positions", p)
	require.Equal(t, http.StatusCreated, code)
	id := body["data"].(map[string]interface{})["id"].(string)
	assert.NotEmpty(t, id)

	code, body = f.do(t, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)

	p.Stop.InitialStop = 105
	code, _ = f.do(t, http.MethodPost, "/api/positions", p)
	assert.Equal(t, http.StatusUnprocessableEntity, code, "stop on the winning side")

	code, body = f.do(t, http.MethodPost, "/api/positions", map[string]interface{}{
		"instrument": "msft", "entryPrice": 50, "stop": map[string]interface{}{"initialStop": 48},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, "quantity", errs[0].(map[string]interface{})["field"])

	code, body = f.do(t, http.MethodPost, "/api/positions", map[string]interface{}{
		"instrument": "msft", "entryPrice": 50, "quantity": 2, "stop": map[string]interface{}{"initialStop": 48},
	})
	require.Equal(t, http.StatusCreated, code)
	opened := body["data"].(map[string]interface{})
	assert.Equal(t, "long", opened["direction"], "direction defaults to long")
	assert.Equal(t, "MSFT", opened["instrument"])
	_, err := f.ctrl.ClosePosition(opened["id"].(string))
	require.NoError(t, err)

	code, _ = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPutBins(t *testing.T) {
	f := newFixture(t, nil)
	table := models.BinStatistics{Bins: []models.PercentileBin{{Lower: 0, Upper: 100, Mean: 0.01, SampleSize: 40}}}
	code, _ := f.do(t, http.MethodPut, "/api/bins/AAPL/d1", table)
	assert.Equal(t, http.StatusConflict, code)

	provider := repository.NewRedisBinStats(cache.NewTTLCache(), "bins", 0)
	f = newFixture(t, provider)
	code, _ = f.do(t, http.MethodPut, "/api/bins/aapl/d1", table)
	require.Equal(t, http.StatusOK, code)
	got, err := provider.GetStockData(context.Background(), "AAPL", models.TFD1)
	require.NoError(t, err)
	assert.Len(t, got.Bins, 1)

	code, _ = f.do(t, http.MethodPut, "/api/bins/aapl/x9", table)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	inverted := models.BinStatistics{Bins: []models.PercentileBin{{Lower: 60, Upper: 20, SampleSize: 5}}}
	code, body := f.do(t, http.MethodPut, "/api/bins/aapl/d1", inverted)
	assert.Equal(t, http.StatusBadRequest, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, "bins[0].upper", errs[0].(map[string]interface{})["field"])

	code, _ = f.do(t, http.MethodPut, "/api/bins/aapl/d1", models.BinStatistics{})
	assert.Equal(t, http.StatusBadRequest, code, "at least one bin")
}

func TestHealthAndScores(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]interface{})["active"])

	code, body = f.do(t, http.MethodGet, "/api/scores", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])

	code, body = f.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]interface{})["isActive"])
}
