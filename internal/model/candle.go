package model

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. Time is unix seconds of the bucket start,
// candles are always handled oldest to newest.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	VWAP   float64 `json:"vwap"`
	Volume float64 `json:"volume"`
	Count  int64   `json:"count"`
}

// Timeframe is a candle bucket size supported by the candle sources.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1min"
	Timeframe5Min  Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	Timeframe30Min Timeframe = "30min"
	Timeframe1H    Timeframe = "1h"
	Timeframe4H    Timeframe = "4h"
	Timeframe24H   Timeframe = "24h"
	Timeframe1W    Timeframe = "1w"
)

var timeframeMinutes = map[Timeframe]int{
	Timeframe1Min:  1,
	Timeframe5Min:  5,
	Timeframe15Min: 15,
	Timeframe30Min: 30,
	Timeframe1H:    60,
	Timeframe4H:    240,
	Timeframe24H:   1440,
	Timeframe1W:    10080,
}

// Timeframes lists all supported timeframes, finest first.
func Timeframes() []Timeframe {
	return []Timeframe{
		Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe30Min,
		Timeframe1H, Timeframe4H, Timeframe24H, Timeframe1W,
	}
}

// Minutes returns the bucket size in minutes, or an error for an
// unsupported timeframe.
func (tf Timeframe) Minutes() (int, error) {
	m, ok := timeframeMinutes[tf]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe: %q", tf)
	}
	return m, nil
}

// Duration returns the bucket size as a time.Duration. Panics only on
// timeframes that failed validation earlier, so callers validate first.
func (tf Timeframe) Duration() time.Duration {
	m := timeframeMinutes[tf]
	return time.Duration(m) * time.Minute
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}
