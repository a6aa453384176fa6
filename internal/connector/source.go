package connector

import (
	"context"
	"time"

	"strategy-backtester/internal/model"
)

// CandleSource fetches OHLCV candle sequences for a pair+timeframe,
// ascending by time. Implementations must fail with a descriptive
// error on unsupported pairs/timeframes or upstream failures.
type CandleSource interface {
	Name() string
	Candles(ctx context.Context, pair string, tf model.Timeframe, since time.Time) ([]model.Candle, error)
}

// maxCandlesPerFetch matches the upstream page size both venues serve
// for a single OHLC request.
const maxCandlesPerFetch = 720
