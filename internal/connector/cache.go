package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// Cache wraps a CandleSource and memoizes full series per
// (pair, timeframe). It is scoped to one backtest run: build a fresh
// Cache per run so repeated cycle evaluations reuse one fetch.
type Cache struct {
	source CandleSource
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string][]model.Candle
}

func NewCache(source CandleSource, logger *zap.Logger) *Cache {
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[string][]model.Candle),
	}
}

// Candles returns the memoized full series for pair+timeframe. A
// coarse timeframe is served by resampling an already-cached finer
// series when one exists; otherwise it is fetched from the source.
func (c *Cache) Candles(ctx context.Context, pair string, tf model.Timeframe) ([]model.Candle, error) {
	key := pair + ":" + string(tf)

	c.mu.Lock()
	candles, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return candles, nil
	}

	if candles, ok := c.resampleFromFiner(pair, tf); ok {
		c.mu.Lock()
		c.entries[key] = candles
		c.mu.Unlock()
		return candles, nil
	}

	candles, err := c.source.Candles(ctx, pair, tf, time.Time{})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = candles
	c.mu.Unlock()
	return candles, nil
}

// resampleFromFiner derives a coarse series from the coarsest cached
// timeframe that divides the target evenly. Coarsest wins because the
// derived series can only span the cached fine window, and coarser
// inputs cover more history per candle.
func (c *Cache) resampleFromFiner(pair string, target model.Timeframe) ([]model.Candle, bool) {
	targetMinutes, err := target.Minutes()
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	all := model.Timeframes()
	for i := len(all) - 1; i >= 0; i-- {
		tf := all[i]
		minutes, err := tf.Minutes()
		if err != nil || minutes >= targetMinutes || targetMinutes%minutes != 0 {
			continue
		}
		fine, ok := c.entries[pair+":"+string(tf)]
		if !ok || len(fine) == 0 {
			continue
		}
		coarse, err := Resample(fine, target)
		if err != nil {
			continue
		}
		return coarse, true
	}
	return nil, false
}

// CandlesUntil returns the prefix of the series strictly before the
// cutoff. Backtest evaluation uses this view so no cycle ever sees
// candle data at or after its own simulated timestamp.
func (c *Cache) CandlesUntil(ctx context.Context, pair string, tf model.Timeframe, until time.Time) ([]model.Candle, error) {
	candles, err := c.Candles(ctx, pair, tf)
	if err != nil {
		return nil, err
	}
	if until.IsZero() {
		return candles, nil
	}

	cutoff := until.Unix()
	idx := sort.Search(len(candles), func(i int) bool {
		return candles[i].Time >= cutoff
	})
	return candles[:idx], nil
}

// TickPrice resolves the simulated price at a point in time: it picks
// the finest timeframe whose 720-candle window still reaches back to
// that moment and takes the close of the last candle strictly before
// it. A candle whose bucket opens exactly at that moment is excluded;
// its close lies in the future of the simulated clock.
func (c *Cache) TickPrice(ctx context.Context, pair string, at time.Time) (float64, error) {
	now := time.Now()
	var lastErr error

	for _, tf := range model.Timeframes() {
		span := time.Duration(maxCandlesPerFetch) * tf.Duration()
		if at.Before(now.Add(-span)) {
			continue
		}

		candles, err := c.CandlesUntil(ctx, pair, tf, at)
		if err != nil {
			lastErr = err
			continue
		}
		if len(candles) == 0 {
			continue
		}
		return candles[len(candles)-1].Close, nil
	}

	if lastErr != nil {
		return 0, fmt.Errorf("tick price for %s at %s: %w", pair, at.Format(time.RFC3339), lastErr)
	}
	return 0, fmt.Errorf("no candle data for %s at %s", pair, at.Format(time.RFC3339))
}

// Resample aggregates a fine-grained series into a coarser timeframe:
// open from the first candle of each bucket, close from the last, high
// and low over the bucket, volume and count summed, vwap
// volume-weighted.
func Resample(candles []model.Candle, target model.Timeframe) ([]model.Candle, error) {
	minutes, err := target.Minutes()
	if err != nil {
		return nil, err
	}
	bucketSecs := int64(minutes) * 60

	var out []model.Candle
	var cur *model.Candle
	var vwapVolume float64

	for _, c := range candles {
		bucket := c.Time - c.Time%bucketSecs
		if cur == nil || cur.Time != bucket {
			if cur != nil {
				finishBucket(cur, vwapVolume)
				out = append(out, *cur)
			}
			cc := c
			cc.Time = bucket
			cur = &cc
			vwapVolume = c.VWAP * c.Volume
			continue
		}

		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		cur.Count += c.Count
		vwapVolume += c.VWAP * c.Volume
	}
	if cur != nil {
		finishBucket(cur, vwapVolume)
		out = append(out, *cur)
	}
	return out, nil
}

func finishBucket(c *model.Candle, vwapVolume float64) {
	if c.Volume > 0 {
		c.VWAP = vwapVolume / c.Volume
	}
}
