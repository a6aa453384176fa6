package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-backtester/internal/connector"
	"strategy-backtester/internal/model"
	"strategy-backtester/internal/runner"
	"strategy-backtester/internal/storage"
)

// Handler is the HTTP boundary between the strategy builder UI and
// the backtest core.
type Handler struct {
	runner *runner.Runner
	source connector.CandleSource
	store  *storage.StrategyStore // nil when no database is configured
	pool   *runner.WorkerPool
	logger *zap.Logger
}

func NewHandler(r *runner.Runner, source connector.CandleSource, store *storage.StrategyStore, pool *runner.WorkerPool, logger *zap.Logger) *Handler {
	return &Handler{
		runner: r,
		source: source,
		store:  store,
		pool:   pool,
		logger: logger,
	}
}

// Evaluate runs a single point-in-time evaluation of a strategy.
func (h *Handler) Evaluate(c *gin.Context) {
	var req struct {
		Strategy model.StrategyTemplate `json:"strategy" binding:"required"`
		Symbol   string                 `json:"symbol" binding:"required"`
		AsOf     *time.Time             `json:"asOf"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errs := req.Strategy.Validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}

	asOf := time.Time{}
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	evaluation := h.runner.EvaluateStrategy(c.Request.Context(), &req.Strategy, req.Symbol, asOf)
	c.JSON(http.StatusOK, evaluation)
}

// RunBacktest replays a strategy over historical cycles. With an
// explicit symbol the replay runs inline; without one, every symbol of
// the strategy is fanned out through the worker pool and the response
// maps each symbol to its evaluations.
func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		Strategy   model.StrategyTemplate `json:"strategy" binding:"required"`
		CycleCount int                    `json:"cycleCount" binding:"required,min=1,max=5000"`
		Symbol     string                 `json:"symbol"`
		Balances   []runner.Balance       `json:"balances"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errs := req.Strategy.Validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}

	if req.Symbol != "" {
		evaluations := h.runner.AnalyzeStrategy(c.Request.Context(), &req.Strategy, req.CycleCount, req.Symbol, req.Balances)
		c.JSON(http.StatusOK, evaluations)
		return
	}

	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest worker pool not configured"})
		return
	}

	// One job per strategy symbol; each job owns its exchange and
	// candle cache, so they run concurrently without shared state.
	results := make([]chan []model.StrategyEvaluation, len(req.Strategy.Symbols))
	for i, symbol := range req.Strategy.Symbols {
		ch := make(chan []model.StrategyEvaluation, 1)
		results[i] = ch
		if !h.pool.Submit(runner.Job{
			Strategy:   &req.Strategy,
			CycleCount: req.CycleCount,
			Symbol:     symbol,
			Balances:   req.Balances,
			Results:    ch,
		}) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest queue is full"})
			return
		}
	}

	out := make(map[string][]model.StrategyEvaluation, len(req.Strategy.Symbols))
	for i, symbol := range req.Strategy.Symbols {
		out[symbol] = <-results[i]
	}
	c.JSON(http.StatusOK, out)
}

// GetKlines exposes the raw candle source to the chart UI.
func (h *Handler) GetKlines(c *gin.Context) {
	pair := c.Param("pair")
	tf := model.Timeframe(c.DefaultQuery("timeframe", string(model.Timeframe1H)))
	if !tf.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported timeframe"})
		return
	}

	candles, err := h.source.Candles(c.Request.Context(), pair, tf, time.Time{})
	if err != nil {
		h.logger.Error("failed to fetch candles", zap.String("pair", pair), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch candles"})
		return
	}
	c.JSON(http.StatusOK, candles)
}

// Strategy persistence handlers. Last write wins on save.

func (h *Handler) SaveStrategy(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy storage not configured"})
		return
	}

	var template model.StrategyTemplate
	if err := c.ShouldBindJSON(&template); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errs := template.Validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}

	saved, err := h.store.Save(c.Request.Context(), &template)
	if err != nil {
		h.logger.Error("failed to save strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save strategy"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) ListStrategies(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy storage not configured"})
		return
	}

	templates, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list strategies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list strategies"})
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (h *Handler) GetStrategy(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy storage not configured"})
		return
	}

	template, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to get strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get strategy"})
		return
	}
	if template == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *Handler) DeleteStrategy(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy storage not configured"})
		return
	}

	removed, err := h.store.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to delete strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete strategy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
