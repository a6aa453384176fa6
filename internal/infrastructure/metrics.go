package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CandleFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "candle_fetch_latency_seconds",
		Help: "Latency of candle fetches from upstream market data APIs",
	}, []string{"source", "timeframe"})

	BacktestCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_cycles_total",
		Help: "Total number of backtest cycles evaluated",
	}, []string{"symbol"})

	OrdersOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_opened_total",
		Help: "Total number of simulated orders opened",
	}, []string{"pair", "type"})

	ConditionsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conditions_evaluated_total",
		Help: "Total number of strategy conditions evaluated",
	}, []string{"type", "result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})
)
