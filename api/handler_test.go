package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"strategy-backtester/internal/model"
	"strategy-backtester/internal/runner"
)

type fixedSource struct {
	candles []model.Candle
}

func (s *fixedSource) Name() string { return "fixed" }

func (s *fixedSource) Candles(_ context.Context, _ string, _ model.Timeframe, _ time.Time) ([]model.Candle, error) {
	return s.candles, nil
}

func testCandles(n int, closePrice float64) []model.Candle {
	base := time.Now().Add(-time.Duration(n) * time.Hour).Add(30 * time.Minute)
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour).Unix(),
			Open:   closePrice,
			High:   closePrice,
			Low:    closePrice,
			Close:  closePrice,
			Volume: 1,
		}
	}
	return out
}

func testRouter(source *fixedSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	r := runner.New(source, logger, nil, nil)
	h := NewHandler(r, source, nil, nil, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/evaluate", h.Evaluate)
	v1.POST("/backtest", h.RunBacktest)
	v1.GET("/klines/:pair", h.GetKlines)
	v1.GET("/strategies", h.ListStrategies)
	return router
}

func strategyJSON() map[string]any {
	return map[string]any{
		"strategyName": "test strategy",
		"symbols":      []string{"XBTUSD"},
		"rules": []map[string]any{{
			"name": "always",
			"conditions": []map[string]any{{
				"type": "greater-than",
				"options": map[string]any{
					"indicator1": "Price",
					"timeframe1": "1h",
					"indicator2": "Value",
					"value":      0,
				},
			}},
			"actions": []map[string]any{{
				"action": "notify-me",
				"options": map[string]any{
					"message": "triggered",
				},
			}},
		}},
	}
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEvaluateEndpoint(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(40, 100)})

	w := postJSON(t, router, "/api/v1/evaluate", map[string]any{
		"strategy": strategyJSON(),
		"symbol":   "XBTUSD",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var eval model.StrategyEvaluation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &eval))
	assert.Equal(t, "XBTUSD", eval.Symbol)
	assert.Len(t, eval.Rules, 1)
	assert.Len(t, eval.TriggeredRules, 1)
	assert.Equal(t, 100.0, eval.PriceUSD)
}

func TestEvaluateEndpoint_RejectsInvalidStrategy(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(40, 100)})

	strategy := strategyJSON()
	strategy["symbols"] = []string{}
	w := postJSON(t, router, "/api/v1/evaluate", map[string]any{
		"strategy": strategy,
		"symbol":   "XBTUSD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "at least one symbol is required")
}

func TestBacktestEndpoint(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(60, 100)})

	w := postJSON(t, router, "/api/v1/backtest", map[string]any{
		"strategy":   strategyJSON(),
		"cycleCount": 12,
		"symbol":     "XBTUSD",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var evals []model.StrategyEvaluation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &evals))
	assert.Len(t, evals, 12)
}

func TestBacktestEndpoint_FansOutAllSymbols(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	source := &fixedSource{candles: testCandles(60, 100)}
	r := runner.New(source, logger, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := runner.NewWorkerPool(2, 8, r, logger)
	pool.Start(ctx)

	h := NewHandler(r, source, nil, pool, logger)
	router := gin.New()
	router.POST("/api/v1/backtest", h.RunBacktest)

	strategy := strategyJSON()
	strategy["symbols"] = []string{"XBTUSD", "ETHUSD"}
	w := postJSON(t, router, "/api/v1/backtest", map[string]any{
		"strategy":   strategy,
		"cycleCount": 8,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var out map[string][]model.StrategyEvaluation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out, 2)
	for _, symbol := range []string{"XBTUSD", "ETHUSD"} {
		assert.Len(t, out[symbol], 8, symbol)
		assert.Equal(t, symbol, out[symbol][0].Symbol)
	}
}

func TestBacktestEndpoint_NoPoolConfigured(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(60, 100)})

	// Without an explicit symbol the request needs the worker pool.
	w := postJSON(t, router, "/api/v1/backtest", map[string]any{
		"strategy":   strategyJSON(),
		"cycleCount": 8,
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBacktestEndpoint_CycleCountBounds(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(60, 100)})

	w := postJSON(t, router, "/api/v1/backtest", map[string]any{
		"strategy":   strategyJSON(),
		"cycleCount": 0,
		"symbol":     "XBTUSD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/api/v1/backtest", map[string]any{
		"strategy":   strategyJSON(),
		"cycleCount": 5001,
		"symbol":     "XBTUSD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKlinesEndpoint(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(3, 250)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/klines/XBTUSD?timeframe=1h", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var candles []model.Candle
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &candles))
	assert.Len(t, candles, 3)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/klines/XBTUSD?timeframe=2h", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStrategiesEndpoint_NoStoreConfigured(t *testing.T) {
	router := testRouter(&fixedSource{candles: testCandles(3, 100)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
