package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// countingSource records fetches so memoization is observable.
type countingSource struct {
	candles []model.Candle
	fetches int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Candles(_ context.Context, _ string, _ model.Timeframe, _ time.Time) ([]model.Candle, error) {
	s.fetches++
	return s.candles, nil
}

func minuteCandles(start time.Time, closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Time:   start.Add(time.Duration(i) * time.Minute).Unix(),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			VWAP:   c,
			Volume: 10,
			Count:  2,
		}
	}
	return out
}

func TestCache_MemoizesPerPairAndTimeframe(t *testing.T) {
	source := &countingSource{candles: minuteCandles(time.Now().Add(-time.Hour), []float64{1, 2, 3})}
	cache := NewCache(source, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Candles(ctx, "XBTUSD", model.Timeframe1Min)
	assert.NoError(t, err)
	_, err = cache.Candles(ctx, "XBTUSD", model.Timeframe1Min)
	assert.NoError(t, err)
	assert.Equal(t, 1, source.fetches, "second call must hit the cache")

	_, err = cache.Candles(ctx, "XBTUSD", model.Timeframe5Min)
	assert.NoError(t, err)
	assert.Equal(t, 2, source.fetches, "different timeframe is a different entry")
}

func TestCache_CandlesUntilIsStrictlyBefore(t *testing.T) {
	start := time.Now().Add(-time.Hour).Truncate(time.Minute)
	source := &countingSource{candles: minuteCandles(start, []float64{1, 2, 3, 4, 5})}
	cache := NewCache(source, zap.NewNop())
	ctx := context.Background()

	// Cutoff exactly on the third candle's timestamp: that candle is
	// excluded.
	got, err := cache.CandlesUntil(ctx, "XBTUSD", model.Timeframe1Min, start.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2.0, got[1].Close)

	// Zero cutoff means the full series.
	got, err = cache.CandlesUntil(ctx, "XBTUSD", model.Timeframe1Min, time.Time{})
	assert.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestCache_TickPrice(t *testing.T) {
	start := time.Now().Add(-30 * time.Minute).Truncate(time.Minute)
	source := &countingSource{candles: minuteCandles(start, []float64{10, 11, 12, 13})}
	cache := NewCache(source, zap.NewNop())

	price, err := cache.TickPrice(context.Background(), "XBTUSD", start.Add(2*time.Minute+30*time.Second))
	assert.NoError(t, err)
	assert.Equal(t, 12.0, price, "close of the last candle strictly before the moment")

	_, err = cache.TickPrice(context.Background(), "XBTUSD", start.Add(-time.Hour))
	assert.Error(t, err, "no candle data before the series start")
}

func TestCache_TickPriceExcludesCandleOpeningAtTheMoment(t *testing.T) {
	start := time.Now().Add(-30 * time.Minute).Truncate(time.Minute)
	source := &countingSource{candles: minuteCandles(start, []float64{10, 11, 12, 13})}
	cache := NewCache(source, zap.NewNop())

	// The candle whose bucket opens exactly at the moment closes in the
	// future; its predecessor's close is the price.
	price, err := cache.TickPrice(context.Background(), "XBTUSD", start.Add(2*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 11.0, price)
}

func TestCache_ResamplesCoarseFromCachedFiner(t *testing.T) {
	start := time.Unix(1700000000, 0).Truncate(time.Hour)
	source := &countingSource{candles: minuteCandles(start, []float64{1, 2, 3, 4, 5, 6})}
	cache := NewCache(source, zap.NewNop())
	ctx := context.Background()

	_, err := cache.Candles(ctx, "XBTUSD", model.Timeframe1Min)
	assert.NoError(t, err)
	assert.Equal(t, 1, source.fetches)

	// The 5min series is derived from the cached 1min series without
	// another upstream fetch.
	coarse, err := cache.Candles(ctx, "XBTUSD", model.Timeframe5Min)
	assert.NoError(t, err)
	assert.Equal(t, 1, source.fetches, "coarse timeframe must not refetch")
	assert.Len(t, coarse, 2)

	first := coarse[0]
	assert.Equal(t, start.Unix(), first.Time)
	assert.Equal(t, 1.0, first.Open)
	assert.Equal(t, 5.0, first.Close)
	assert.Equal(t, 50.0, first.Volume)
	assert.Equal(t, 6.0, coarse[1].Close)

	// A second request for the derived series is memoized too.
	_, err = cache.Candles(ctx, "XBTUSD", model.Timeframe5Min)
	assert.NoError(t, err)
	assert.Equal(t, 1, source.fetches)
}

func TestResample(t *testing.T) {
	start := time.Unix(1700000000, 0).Truncate(time.Hour)
	fine := []model.Candle{
		{Time: start.Unix(), Open: 10, High: 12, Low: 9, Close: 11, VWAP: 10, Volume: 5, Count: 1},
		{Time: start.Add(5 * time.Minute).Unix(), Open: 11, High: 15, Low: 11, Close: 14, VWAP: 13, Volume: 10, Count: 2},
		{Time: start.Add(10 * time.Minute).Unix(), Open: 14, High: 14, Low: 8, Close: 9, VWAP: 11, Volume: 5, Count: 1},
		{Time: start.Add(15 * time.Minute).Unix(), Open: 9, High: 10, Low: 9, Close: 10, VWAP: 9.5, Volume: 4, Count: 1},
	}

	coarse, err := Resample(fine, model.Timeframe15Min)
	assert.NoError(t, err)
	assert.Len(t, coarse, 2)

	first := coarse[0]
	assert.Equal(t, start.Unix(), first.Time)
	assert.Equal(t, 10.0, first.Open)
	assert.Equal(t, 9.0, first.Close)
	assert.Equal(t, 15.0, first.High)
	assert.Equal(t, 8.0, first.Low)
	assert.Equal(t, 20.0, first.Volume)
	assert.Equal(t, int64(4), first.Count)
	// Volume-weighted: (10*5 + 13*10 + 11*5) / 20 = 11.75
	assert.InDelta(t, 11.75, first.VWAP, 1e-12)

	second := coarse[1]
	assert.Equal(t, start.Add(15*time.Minute).Unix(), second.Time)
	assert.Equal(t, 10.0, second.Close)

	_, err = Resample(fine, model.Timeframe("2min"))
	assert.Error(t, err)
}
