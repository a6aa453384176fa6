package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"strategy-backtester/internal/infrastructure"
	"strategy-backtester/internal/model"
)

// BinanceSource serves historical klines from the Binance public REST
// API, as a drop-in alternative to Kraken. Binance has no vwap column;
// it is approximated as quote volume / base volume per candle.
type BinanceSource struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

func NewBinanceSource(logger *zap.Logger, baseURL string) *BinanceSource {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceSource{
		logger:  logger,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
}

func (b *BinanceSource) Name() string { return "binance" }

var binanceIntervals = map[model.Timeframe]string{
	model.Timeframe1Min:  "1m",
	model.Timeframe5Min:  "5m",
	model.Timeframe15Min: "15m",
	model.Timeframe30Min: "30m",
	model.Timeframe1H:    "1h",
	model.Timeframe4H:    "4h",
	model.Timeframe24H:   "1d",
	model.Timeframe1W:    "1w",
}

func (b *BinanceSource) Candles(ctx context.Context, pair string, tf model.Timeframe, since time.Time) ([]model.Candle, error) {
	interval, ok := binanceIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("binance: unsupported timeframe %q", tf)
	}

	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(maxCandlesPerFetch))
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	reqURL := fmt.Sprintf("%s/api/v3/klines?%s", b.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch klines for %s: %w", pair, err)
	}
	defer resp.Body.Close()
	infrastructure.CandleFetchLatency.WithLabelValues(b.Name(), string(tf)).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: klines request for %s returned status %d", pair, resp.StatusCode)
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines response: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := b.parseRow(row)
		if err != nil {
			b.logger.Warn("skipping malformed binance kline row", zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (b *BinanceSource) parseRow(row []json.RawMessage) (model.Candle, error) {
	// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...]
	if len(row) < 9 {
		return model.Candle{}, fmt.Errorf("kline row has %d fields, want at least 9", len(row))
	}

	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return model.Candle{}, fmt.Errorf("parse open time: %w", err)
	}
	var trades int64
	if err := json.Unmarshal(row[8], &trades); err != nil {
		return model.Candle{}, fmt.Errorf("parse trade count: %w", err)
	}

	parse := func(idx int) (float64, error) {
		var s string
		if err := json.Unmarshal(row[idx], &s); err != nil {
			return 0, fmt.Errorf("parse field %d: %w", idx, err)
		}
		return strconv.ParseFloat(s, 64)
	}

	open, err := parse(1)
	if err != nil {
		return model.Candle{}, err
	}
	high, err := parse(2)
	if err != nil {
		return model.Candle{}, err
	}
	low, err := parse(3)
	if err != nil {
		return model.Candle{}, err
	}
	closePrice, err := parse(4)
	if err != nil {
		return model.Candle{}, err
	}
	volume, err := parse(5)
	if err != nil {
		return model.Candle{}, err
	}
	quoteVolume, err := parse(7)
	if err != nil {
		return model.Candle{}, err
	}

	vwap := closePrice
	if volume > 0 {
		vwap = quoteVolume / volume
	}

	return model.Candle{
		Time:   openTimeMs / 1000,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		VWAP:   vwap,
		Volume: volume,
		Count:  trades,
	}, nil
}
