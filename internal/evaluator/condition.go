package evaluator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"strategy-backtester/internal/infrastructure"
	"strategy-backtester/internal/model"
)

// CandleProvider supplies the candle history visible to an
// evaluation: only candles strictly before the cutoff.
type CandleProvider interface {
	CandlesUntil(ctx context.Context, pair string, tf model.Timeframe, until time.Time) ([]model.Candle, error)
}

// Evaluator resolves strategy conditions against candle data at a
// point in time.
type Evaluator struct {
	provider CandleProvider
	logger   *zap.Logger
}

func New(provider CandleProvider, logger *zap.Logger) *Evaluator {
	return &Evaluator{provider: provider, logger: logger}
}

// EvaluateCondition produces a ConditionEvaluation for one condition.
// Lookup failures never propagate: they land in the Error field with
// Result false, so a single broken condition cannot abort a run.
func (ev *Evaluator) EvaluateCondition(ctx context.Context, symbol string, cond model.Condition, index int, asOf time.Time) model.ConditionEvaluation {
	result := model.ConditionEvaluation{
		ConditionIndex: index,
		Condition:      cond,
	}

	switch cond.Type {
	case model.ConditionIncreasedBy, model.ConditionDecreasedBy:
		ev.evaluateChange(ctx, symbol, cond, asOf, &result)
	case model.ConditionGreaterThan, model.ConditionLowerThan:
		ev.evaluateComparison(ctx, symbol, cond, asOf, &result)
	case model.ConditionCrossingAbove, model.ConditionCrossingBelow:
		ev.evaluateCrossing(ctx, symbol, cond, asOf, &result)
	default:
		result.Error = fmt.Sprintf("unknown condition type %q", cond.Type)
		ev.logger.Warn("unknown condition type", zap.String("type", string(cond.Type)))
	}

	infrastructure.ConditionsEvaluated.WithLabelValues(string(cond.Type), strconv.FormatBool(result.Result)).Inc()
	return result
}

// resolveOperand computes the current value of an indicator operand.
// With dropLast, the latest candle is excluded, which yields the
// "previous" value of the same operand.
func (ev *Evaluator) resolveOperand(ctx context.Context, symbol, spec string, tf model.Timeframe, asOf time.Time, dropLast bool) (float64, error) {
	op, err := parseOperand(spec)
	if err != nil {
		return 0, err
	}

	candles, err := ev.provider.CandlesUntil(ctx, symbol, tf, asOf)
	if err != nil {
		return 0, err
	}
	if dropLast {
		if len(candles) == 0 {
			return 0, fmt.Errorf("no candle data before latest")
		}
		candles = candles[:len(candles)-1]
	}

	return op.value(candles)
}

func (ev *Evaluator) evaluateChange(ctx context.Context, symbol string, cond model.Condition, asOf time.Time, out *model.ConditionEvaluation) {
	opts := cond.Options
	if opts.Value == nil {
		out.Error = "target percentage value is missing"
		return
	}

	current, err := ev.resolveOperand(ctx, symbol, opts.Indicator1, opts.Timeframe1, asOf, false)
	if err != nil {
		out.Error = fmt.Sprintf("resolve %s: %v", opts.Indicator1, err)
		return
	}
	previous, err := ev.resolveOperand(ctx, symbol, opts.Indicator1, opts.Timeframe1, asOf, true)
	if err != nil {
		out.Error = fmt.Sprintf("resolve previous %s: %v", opts.Indicator1, err)
		return
	}

	out.CurrentValue = &current
	out.PreviousValue = &previous
	out.ComparisonValue = opts.Value

	// A zero base means the percentage change is undefined; that is a
	// non-trigger, not an error.
	if previous == 0 {
		return
	}

	change := (current - previous) / math.Abs(previous) * 100
	if cond.Type == model.ConditionIncreasedBy {
		out.Result = change >= *opts.Value
	} else {
		out.Result = change <= -*opts.Value
	}
}

func (ev *Evaluator) evaluateComparison(ctx context.Context, symbol string, cond model.Condition, asOf time.Time, out *model.ConditionEvaluation) {
	opts := cond.Options

	current, err := ev.resolveOperand(ctx, symbol, opts.Indicator1, opts.Timeframe1, asOf, false)
	if err != nil {
		out.Error = fmt.Sprintf("resolve %s: %v", opts.Indicator1, err)
		return
	}

	var comparison float64
	if opts.Indicator2 == model.StaticValueOperand {
		if opts.Value == nil {
			out.Error = "static comparison value is missing"
			return
		}
		comparison = *opts.Value
	} else {
		comparison, err = ev.resolveOperand(ctx, symbol, opts.Indicator2, opts.Timeframe2, asOf, false)
		if err != nil {
			out.Error = fmt.Sprintf("resolve %s: %v", opts.Indicator2, err)
			return
		}
	}

	out.CurrentValue = &current
	out.ComparisonValue = &comparison

	if cond.Type == model.ConditionGreaterThan {
		out.Result = current > comparison
	} else {
		out.Result = current < comparison
	}
}

// evaluateCrossing is a strict one-step edge detector over the two
// most recent samples of both operands. A static value operand never
// moves, so its previous equals its current.
func (ev *Evaluator) evaluateCrossing(ctx context.Context, symbol string, cond model.Condition, asOf time.Time, out *model.ConditionEvaluation) {
	opts := cond.Options

	current1, err := ev.resolveOperand(ctx, symbol, opts.Indicator1, opts.Timeframe1, asOf, false)
	if err != nil {
		out.Error = fmt.Sprintf("resolve %s: %v", opts.Indicator1, err)
		return
	}
	previous1, err := ev.resolveOperand(ctx, symbol, opts.Indicator1, opts.Timeframe1, asOf, true)
	if err != nil {
		out.Error = fmt.Sprintf("resolve previous %s: %v", opts.Indicator1, err)
		return
	}

	var current2, previous2 float64
	if opts.Indicator2 == model.StaticValueOperand {
		if opts.Value == nil {
			out.Error = "static comparison value is missing"
			return
		}
		current2 = *opts.Value
		previous2 = *opts.Value
	} else {
		current2, err = ev.resolveOperand(ctx, symbol, opts.Indicator2, opts.Timeframe2, asOf, false)
		if err != nil {
			out.Error = fmt.Sprintf("resolve %s: %v", opts.Indicator2, err)
			return
		}
		previous2, err = ev.resolveOperand(ctx, symbol, opts.Indicator2, opts.Timeframe2, asOf, true)
		if err != nil {
			out.Error = fmt.Sprintf("resolve previous %s: %v", opts.Indicator2, err)
			return
		}
	}

	out.CurrentValue = &current1
	out.PreviousValue = &previous1
	out.ComparisonValue = &current2

	if cond.Type == model.ConditionCrossingAbove {
		out.Result = previous1 <= previous2 && current1 > current2
	} else {
		out.Result = previous1 >= previous2 && current1 < current2
	}
}
