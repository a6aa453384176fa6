package indicator

import (
	"fmt"
	"math"

	"strategy-backtester/internal/model"
)

// Value is one point of an indicator series. Valid is false for the
// leading positions where the lookback window is not yet filled.
type Value struct {
	Float64 float64
	Valid   bool
}

// Series is parallel to the candle slice it was computed from: same
// length, element i aligned to candle i.
type Series []Value

// Last returns the final resolved value of the series.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Valid {
			return s[i].Float64, true
		}
	}
	return 0, false
}

// Field selects which candle price an indicator is computed over.
type Field string

const (
	FieldOpen  Field = "open"
	FieldHigh  Field = "high"
	FieldLow   Field = "low"
	FieldClose Field = "close"
	FieldVWAP  Field = "vwap"
)

// Prices extracts one price field from a candle slice.
func Prices(candles []model.Candle, field Field) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		switch field {
		case FieldOpen:
			out[i] = c.Open
		case FieldHigh:
			out[i] = c.High
		case FieldLow:
			out[i] = c.Low
		case FieldVWAP:
			out[i] = c.VWAP
		default:
			out[i] = c.Close
		}
	}
	return out
}

func validate(prices []float64, period int, min int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if len(prices) < min {
		return fmt.Errorf("not enough data: need %d prices, have %d", min, len(prices))
	}
	return nil
}

// CalculateEMA seeds the first resolved value with the simple average
// of the first period prices, then applies the standard recurrence
// ema[i] = (price[i] - ema[i-1]) * k + ema[i-1] with k = 2/(period+1).
func CalculateEMA(prices []float64, period int) (Series, error) {
	if err := validate(prices, period, period); err != nil {
		return nil, fmt.Errorf("ema: %w", err)
	}

	out := make(Series, len(prices))
	k := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	out[period-1] = Value{Float64: ema, Valid: true}

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*k + ema
		out[i] = Value{Float64: ema, Valid: true}
	}
	return out, nil
}

// CalculateMA is a sliding-window simple moving average.
func CalculateMA(prices []float64, period int) (Series, error) {
	if err := validate(prices, period, period); err != nil {
		return nil, fmt.Errorf("ma: %w", err)
	}

	out := make(Series, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = Value{Float64: sum / float64(period), Valid: true}
		}
	}
	return out, nil
}

// CalculateRSI is Wilder's smoothed RSI: the first period gains and
// losses are simple-averaged, subsequent averages use
// avg = (avg*(period-1) + new) / period.
func CalculateRSI(prices []float64, period int) (Series, error) {
	if err := validate(prices, period, period+1); err != nil {
		return nil, fmt.Errorf("rsi: %w", err)
	}

	out := make(Series, len(prices))

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = Value{Float64: rsiValue(avgGain, avgLoss), Valid: true}

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = Value{Float64: rsiValue(avgGain, avgLoss), Valid: true}
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three aligned series produced by CalculateMACD.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// CalculateMACD computes macd = EMA(fast) - EMA(slow), the signal line
// as an EMA over the resolved macd values only, and the histogram as
// their difference.
func CalculateMACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (*MACDResult, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return nil, fmt.Errorf("macd: periods must be positive")
	}
	minLen := slowPeriod + signalPeriod - 1
	if len(prices) < minLen {
		return nil, fmt.Errorf("macd: not enough data: need %d prices, have %d", minLen, len(prices))
	}

	fastEMA, err := CalculateEMA(prices, fastPeriod)
	if err != nil {
		return nil, err
	}
	slowEMA, err := CalculateEMA(prices, slowPeriod)
	if err != nil {
		return nil, err
	}

	macd := make(Series, len(prices))
	for i := slowPeriod - 1; i < len(prices); i++ {
		macd[i] = Value{Float64: fastEMA[i].Float64 - slowEMA[i].Float64, Valid: true}
	}

	// The signal line is an EMA of the macd values, treating each
	// resolved macd value as a synthetic close price.
	macdValues := make([]float64, 0, len(prices)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(prices); i++ {
		macdValues = append(macdValues, macd[i].Float64)
	}
	signalEMA, err := CalculateEMA(macdValues, signalPeriod)
	if err != nil {
		return nil, fmt.Errorf("macd signal: %w", err)
	}

	signal := make(Series, len(prices))
	histogram := make(Series, len(prices))
	for i, v := range signalEMA {
		if !v.Valid {
			continue
		}
		idx := i + slowPeriod - 1
		signal[idx] = v
		histogram[idx] = Value{Float64: macd[idx].Float64 - v.Float64, Valid: true}
	}

	return &MACDResult{MACD: macd, Signal: signal, Histogram: histogram}, nil
}

// BollingerResult holds the three aligned bands.
type BollingerResult struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// CalculateBollingerBands puts the middle band at the SMA and the
// outer bands stdDev population standard deviations away.
func CalculateBollingerBands(prices []float64, period int, stdDev float64) (*BollingerResult, error) {
	middle, err := CalculateMA(prices, period)
	if err != nil {
		return nil, fmt.Errorf("bollinger: %w", err)
	}

	upper := make(Series, len(prices))
	lower := make(Series, len(prices))
	for i := period - 1; i < len(prices); i++ {
		mean := middle[i].Float64
		var sqSum float64
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - mean
			sqSum += d * d
		}
		sd := math.Sqrt(sqSum / float64(period))
		upper[i] = Value{Float64: mean + stdDev*sd, Valid: true}
		lower[i] = Value{Float64: mean - stdDev*sd, Valid: true}
	}

	return &BollingerResult{Upper: upper, Middle: middle, Lower: lower}, nil
}

// LatestEMA returns the final resolved EMA value, if any.
func LatestEMA(prices []float64, period int) (float64, bool) {
	s, err := CalculateEMA(prices, period)
	if err != nil {
		return 0, false
	}
	return s.Last()
}

// LatestMA returns the final resolved SMA value, if any.
func LatestMA(prices []float64, period int) (float64, bool) {
	s, err := CalculateMA(prices, period)
	if err != nil {
		return 0, false
	}
	return s.Last()
}

// LatestRSI returns the final resolved RSI value, if any.
func LatestRSI(prices []float64, period int) (float64, bool) {
	s, err := CalculateRSI(prices, period)
	if err != nil {
		return 0, false
	}
	return s.Last()
}

// LatestMACD returns the final resolved macd/signal/histogram triple.
func LatestMACD(prices []float64, fast, slow, signal int) (macd, sig, hist float64, ok bool) {
	res, err := CalculateMACD(prices, fast, slow, signal)
	if err != nil {
		return 0, 0, 0, false
	}
	m, ok1 := res.MACD.Last()
	s, ok2 := res.Signal.Last()
	h, ok3 := res.Histogram.Last()
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	return m, s, h, true
}

// LatestBollingerBands returns the final resolved band triple.
func LatestBollingerBands(prices []float64, period int, stdDev float64) (upper, middle, lower float64, ok bool) {
	res, err := CalculateBollingerBands(prices, period, stdDev)
	if err != nil {
		return 0, 0, 0, false
	}
	u, ok1 := res.Upper.Last()
	m, ok2 := res.Middle.Last()
	l, ok3 := res.Lower.Last()
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	return u, m, l, true
}
