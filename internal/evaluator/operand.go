package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"strategy-backtester/internal/indicator"
	"strategy-backtester/internal/model"
)

// operandKind identifies which indicator an operand string names.
type operandKind int

const (
	operandPrice operandKind = iota
	operandEMA
	operandSMA
	operandRSI
	operandMACD
	operandMACDSignal
	operandMACDHistogram
	operandBBUpper
	operandBBMiddle
	operandBBLower
)

// operand is a parsed indicator reference such as "EMA(20)" or
// "MACD(12,26,9)". Bare names use the conventional default periods.
type operand struct {
	kind operandKind
	args []int
	dev  float64 // bollinger band width in standard deviations
}

func parseOperand(spec string) (operand, error) {
	name := spec
	var rawArgs []string

	if i := strings.IndexByte(spec, '('); i >= 0 {
		if !strings.HasSuffix(spec, ")") {
			return operand{}, fmt.Errorf("malformed indicator %q", spec)
		}
		name = spec[:i]
		inner := strings.TrimSpace(spec[i+1 : len(spec)-1])
		if inner != "" {
			rawArgs = strings.Split(inner, ",")
		}
	}

	args := make([]float64, 0, len(rawArgs))
	for _, a := range rawArgs {
		f, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return operand{}, fmt.Errorf("malformed indicator argument in %q: %w", spec, err)
		}
		args = append(args, f)
	}

	intArgs := func(defaults ...int) []int {
		out := append([]int(nil), defaults...)
		for i := 0; i < len(args) && i < len(out); i++ {
			out[i] = int(args[i])
		}
		return out
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "price":
		return operand{kind: operandPrice}, nil
	case "ema":
		return operand{kind: operandEMA, args: intArgs(20)}, nil
	case "sma", "ma":
		return operand{kind: operandSMA, args: intArgs(20)}, nil
	case "rsi":
		return operand{kind: operandRSI, args: intArgs(14)}, nil
	case "macd":
		return operand{kind: operandMACD, args: intArgs(12, 26, 9)}, nil
	case "macd_signal":
		return operand{kind: operandMACDSignal, args: intArgs(12, 26, 9)}, nil
	case "macd_histogram":
		return operand{kind: operandMACDHistogram, args: intArgs(12, 26, 9)}, nil
	case "bb_upper":
		return parseBollinger(operandBBUpper, args)
	case "bb_middle":
		return parseBollinger(operandBBMiddle, args)
	case "bb_lower":
		return parseBollinger(operandBBLower, args)
	default:
		return operand{}, fmt.Errorf("unknown indicator %q", spec)
	}
}

func parseBollinger(kind operandKind, args []float64) (operand, error) {
	op := operand{kind: kind, args: []int{20}, dev: 2}
	if len(args) > 0 {
		op.args[0] = int(args[0])
	}
	if len(args) > 1 {
		op.dev = args[1]
	}
	return op, nil
}

// value computes the operand over a candle series and returns the
// latest resolved value.
func (op operand) value(candles []model.Candle) (float64, error) {
	if op.kind == operandPrice {
		if len(candles) == 0 {
			return 0, fmt.Errorf("no candle data")
		}
		return candles[len(candles)-1].Close, nil
	}

	prices := indicator.Prices(candles, indicator.FieldClose)

	var (
		series indicator.Series
		err    error
	)
	switch op.kind {
	case operandEMA:
		series, err = indicator.CalculateEMA(prices, op.args[0])
	case operandSMA:
		series, err = indicator.CalculateMA(prices, op.args[0])
	case operandRSI:
		series, err = indicator.CalculateRSI(prices, op.args[0])
	case operandMACD, operandMACDSignal, operandMACDHistogram:
		var res *indicator.MACDResult
		res, err = indicator.CalculateMACD(prices, op.args[0], op.args[1], op.args[2])
		if err == nil {
			switch op.kind {
			case operandMACD:
				series = res.MACD
			case operandMACDSignal:
				series = res.Signal
			default:
				series = res.Histogram
			}
		}
	case operandBBUpper, operandBBMiddle, operandBBLower:
		var res *indicator.BollingerResult
		res, err = indicator.CalculateBollingerBands(prices, op.args[0], op.dev)
		if err == nil {
			switch op.kind {
			case operandBBUpper:
				series = res.Upper
			case operandBBMiddle:
				series = res.Middle
			default:
				series = res.Lower
			}
		}
	default:
		return 0, fmt.Errorf("unsupported operand kind %d", op.kind)
	}
	if err != nil {
		return 0, err
	}

	v, ok := series.Last()
	if !ok {
		return 0, fmt.Errorf("indicator has no resolved value")
	}
	return v, nil
}
