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

// KrakenSource serves historical OHLC candles from the Kraken public
// REST API. Kraken returns at most 720 candles per request.
type KrakenSource struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
}

func NewKrakenSource(logger *zap.Logger, baseURL string) *KrakenSource {
	if baseURL == "" {
		baseURL = "https://api.kraken.com"
	}
	return &KrakenSource{
		logger:  logger,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
}

func (k *KrakenSource) Name() string { return "kraken" }

var krakenIntervals = map[model.Timeframe]int{
	model.Timeframe1Min:  1,
	model.Timeframe5Min:  5,
	model.Timeframe15Min: 15,
	model.Timeframe30Min: 30,
	model.Timeframe1H:    60,
	model.Timeframe4H:    240,
	model.Timeframe24H:   1440,
	model.Timeframe1W:    10080,
}

type krakenOHLCResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// Candles fetches ascending OHLC rows. Rows arrive as
// [time, open, high, low, close, vwap, volume, count] with prices
// encoded as strings.
func (k *KrakenSource) Candles(ctx context.Context, pair string, tf model.Timeframe, since time.Time) ([]model.Candle, error) {
	interval, ok := krakenIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("kraken: unsupported timeframe %q", tf)
	}

	q := url.Values{}
	q.Set("pair", pair)
	q.Set("interval", strconv.Itoa(interval))
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	reqURL := fmt.Sprintf("%s/0/public/OHLC?%s", k.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kraken: build request: %w", err)
	}

	start := time.Now()
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kraken: fetch OHLC for %s: %w", pair, err)
	}
	defer resp.Body.Close()
	infrastructure.CandleFetchLatency.WithLabelValues(k.Name(), string(tf)).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kraken: OHLC request for %s returned status %d", pair, resp.StatusCode)
	}

	var body krakenOHLCResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("kraken: decode OHLC response: %w", err)
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("kraken: API error for %s: %v", pair, body.Error)
	}

	// The result map carries the rows under Kraken's own pair alias
	// plus a "last" cursor; take the one array entry.
	var rows [][]json.RawMessage
	for key, raw := range body.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken: decode OHLC rows for %s: %w", pair, err)
		}
		break
	}
	if rows == nil {
		return nil, fmt.Errorf("kraken: no OHLC data for pair %q", pair)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := k.parseRow(row)
		if err != nil {
			k.logger.Warn("skipping malformed kraken OHLC row", zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}

	k.logger.Debug("fetched kraken candles",
		zap.String("pair", pair),
		zap.String("timeframe", string(tf)),
		zap.Int("count", len(candles)),
	)
	return candles, nil
}

func (k *KrakenSource) parseRow(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 8 {
		return model.Candle{}, fmt.Errorf("OHLC row has %d fields, want 8", len(row))
	}

	var ts float64
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return model.Candle{}, fmt.Errorf("parse time: %w", err)
	}
	var count int64
	if err := json.Unmarshal(row[7], &count); err != nil {
		return model.Candle{}, fmt.Errorf("parse count: %w", err)
	}

	floats := make([]float64, 6)
	for i := 1; i <= 6; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return model.Candle{}, fmt.Errorf("parse field %d: %w", i, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("parse field %d: %w", i, err)
		}
		floats[i-1] = f
	}

	return model.Candle{
		Time:   int64(ts),
		Open:   floats[0],
		High:   floats[1],
		Low:    floats[2],
		Close:  floats[3],
		VWAP:   floats[4],
		Volume: floats[5],
		Count:  count,
	}, nil
}
