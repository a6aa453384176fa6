package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// hourlySource serves the same hourly candle series for every
// timeframe, which keeps tick price resolution and condition
// evaluation on one well-known data set.
type hourlySource struct {
	candles []model.Candle
	err     error
}

func (s *hourlySource) Name() string { return "stub" }

func (s *hourlySource) Candles(_ context.Context, _ string, _ model.Timeframe, _ time.Time) ([]model.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

// hourlyCandles builds count hourly candles ending near now. Times sit
// on half-hour offsets so cycle boundaries never coincide with candle
// timestamps.
func hourlyCandles(closes []float64) []model.Candle {
	base := time.Now().Add(-time.Duration(len(closes)) * time.Hour).Add(30 * time.Minute)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour).Unix(),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1,
		}
	}
	return out
}

func flatCloses(n int, value float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }

func usdBalance(amount float64) []Balance {
	return []Balance{{Currency: "USD", Amount: decimal.NewFromFloat(amount)}}
}

func increasedByStrategy(targetPct float64) *model.StrategyTemplate {
	return &model.StrategyTemplate{
		StrategyName: "spike entry",
		Symbols:      []string{"XBTUSD"},
		ExecutionOptions: model.ExecutionOptions{
			RunIntervalMinutes: 60,
		},
		Rules: []model.Rule{{
			Name: "buy the spike",
			Conditions: []model.Condition{{
				Type: model.ConditionIncreasedBy,
				Options: model.ConditionOptions{
					Indicator1: "Price",
					Timeframe1: model.Timeframe1H,
					Value:      floatPtr(targetPct),
				},
			}},
			Actions: []model.Action{{
				Action: model.ActionBuy,
				Options: model.ActionOptions{
					Amount: 100,
					Unit:   model.UnitUSD,
				},
			}},
		}},
	}
}

func TestAnalyzeStrategy_OneEvaluationPerCycle(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(80, 100))}
	r := New(source, zap.NewNop(), nil, nil)

	evals := r.AnalyzeStrategy(context.Background(), increasedByStrategy(5), 50, "XBTUSD", usdBalance(1000))

	assert.Len(t, evals, 50)
	for i := 1; i < len(evals); i++ {
		assert.True(t, evals[i].EvaluatedAt.After(evals[i-1].EvaluatedAt),
			"evaluation timestamps must strictly increase")
	}
	// Flat prices: nothing ever triggers.
	for _, e := range evals {
		assert.Empty(t, e.TriggeredRules)
		assert.Empty(t, e.OpenedOrders)
	}
}

func TestAnalyzeStrategy_SpikeTriggersExactlyOnce(t *testing.T) {
	// 30 hourly candles, one 6% spike. With 24 hourly cycles, cycle i
	// sees candles up to index i+5, so only one cycle observes the
	// 100 -> 106 step as its latest move.
	closes := flatCloses(30, 100)
	closes[16] = 106
	source := &hourlySource{candles: hourlyCandles(closes)}
	r := New(source, zap.NewNop(), nil, nil)

	evals := r.AnalyzeStrategy(context.Background(), increasedByStrategy(5), 24, "XBTUSD", usdBalance(1000))
	assert.Len(t, evals, 24)

	var triggered []int
	for i, e := range evals {
		if len(e.TriggeredRules) > 0 {
			triggered = append(triggered, i)
		}
	}
	assert.Equal(t, []int{11}, triggered)

	spike := evals[11]
	assert.Equal(t, 106.0, spike.PriceUSD)
	assert.Len(t, spike.OpenedOrders, 1)

	// 100 USD at a 106 tick.
	wantVolume := decimal.NewFromInt(100).Div(decimal.NewFromInt(106))
	assert.True(t, spike.OpenedOrders[0].Volume.Equal(wantVolume),
		"got volume %s", spike.OpenedOrders[0].Volume)

	// Market orders fill on the same cycle's update pass.
	assert.Len(t, spike.TriggeredOrders, 1)
	assert.Equal(t, model.StatusCompleted, spike.TriggeredOrders[0].Status)
}

func TestAnalyzeStrategy_MaximumExecuteCount(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(40, 100))}
	r := New(source, zap.NewNop(), nil, nil)

	strategy := &model.StrategyTemplate{
		StrategyName: "always on",
		ExecutionOptions: model.ExecutionOptions{
			RunIntervalMinutes:  60,
			MaximumExecuteCount: 2,
		},
		Rules: []model.Rule{{
			Name: "price above zero",
			Conditions: []model.Condition{{
				Type: model.ConditionGreaterThan,
				Options: model.ConditionOptions{
					Indicator1: "Price",
					Timeframe1: model.Timeframe1H,
					Indicator2: model.StaticValueOperand,
					Value:      floatPtr(0),
				},
			}},
			Actions: []model.Action{{
				Action:  model.ActionBuy,
				Options: model.ActionOptions{Amount: 1, Unit: model.UnitCoin},
			}},
		}},
	}

	evals := r.AnalyzeStrategy(context.Background(), strategy, 10, "XBTUSD", nil)

	fires := 0
	for _, e := range evals {
		fires += len(e.TriggeredRules)
	}
	assert.Equal(t, 2, fires, "execution cap must stop further fires")
	assert.NotEmpty(t, evals[0].TriggeredRules)
	assert.NotEmpty(t, evals[1].TriggeredRules)
	assert.Empty(t, evals[2].TriggeredRules)
}

func TestAnalyzeStrategy_CooldownBetweenExecutions(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(40, 100))}
	r := New(source, zap.NewNop(), nil, nil)

	strategy := &model.StrategyTemplate{
		StrategyName: "always on",
		ExecutionOptions: model.ExecutionOptions{
			RunIntervalMinutes:               60,
			IntervalBetweenExecutionsMinutes: 120,
		},
		Rules: []model.Rule{{
			Name: "price above zero",
			Conditions: []model.Condition{{
				Type: model.ConditionGreaterThan,
				Options: model.ConditionOptions{
					Indicator1: "Price",
					Timeframe1: model.Timeframe1H,
					Indicator2: model.StaticValueOperand,
					Value:      floatPtr(0),
				},
			}},
			Actions: []model.Action{{
				Action:  model.ActionNotify,
				Options: model.ActionOptions{Message: "still above zero"},
			}},
		}},
	}

	evals := r.AnalyzeStrategy(context.Background(), strategy, 6, "XBTUSD", nil)

	// A two-hour cooldown on hourly cycles fires on every other cycle.
	for i, e := range evals {
		if i%2 == 0 {
			assert.NotEmpty(t, e.TriggeredRules, "cycle %d", i)
		} else {
			assert.Empty(t, e.TriggeredRules, "cycle %d", i)
		}
	}
}

func TestAnalyzeStrategy_SourceErrorStillYieldsEvaluations(t *testing.T) {
	source := &hourlySource{err: errors.New("exchange unreachable")}
	r := New(source, zap.NewNop(), nil, nil)

	evals := r.AnalyzeStrategy(context.Background(), increasedByStrategy(5), 5, "XBTUSD", nil)

	assert.Len(t, evals, 5)
	for _, e := range evals {
		assert.Zero(t, e.PriceUSD)
		assert.Empty(t, e.OpenedOrders)
		for _, re := range e.Rules {
			for _, ce := range re.Conditions {
				assert.NotEmpty(t, ce.Error)
			}
		}
	}
}

type capturedNotification struct {
	strategy, rule, channel, message string
}

type stubNotifier struct {
	sent []capturedNotification
}

func (n *stubNotifier) Notify(_ context.Context, strategy, rule, channel, message string) error {
	n.sent = append(n.sent, capturedNotification{strategy, rule, channel, message})
	return nil
}

func TestAnalyzeStrategy_NotifyAction(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(40, 100))}
	notifier := &stubNotifier{}
	r := New(source, zap.NewNop(), nil, notifier)

	strategy := &model.StrategyTemplate{
		StrategyName: "watcher",
		ExecutionOptions: model.ExecutionOptions{
			RunIntervalMinutes:  60,
			MaximumExecuteCount: 1,
		},
		Rules: []model.Rule{{
			Name: "heartbeat",
			Conditions: []model.Condition{{
				Type: model.ConditionGreaterThan,
				Options: model.ConditionOptions{
					Indicator1: "Price",
					Timeframe1: model.Timeframe1H,
					Indicator2: model.StaticValueOperand,
					Value:      floatPtr(0),
				},
			}},
			Actions: []model.Action{{
				Action: model.ActionNotify,
				Options: model.ActionOptions{
					Channel: "email",
					Message: "price is alive",
				},
			}},
		}},
	}

	r.AnalyzeStrategy(context.Background(), strategy, 5, "XBTUSD", nil)

	assert.Len(t, notifier.sent, 1)
	assert.Equal(t, "watcher", notifier.sent[0].strategy)
	assert.Equal(t, "heartbeat", notifier.sent[0].rule)
	assert.Equal(t, "email", notifier.sent[0].channel)
	assert.Equal(t, "price is alive", notifier.sent[0].message)
}

type recordingPublisher struct {
	published []model.StrategyEvaluation
}

func (p *recordingPublisher) PublishEvaluation(_ string, eval model.StrategyEvaluation) {
	p.published = append(p.published, eval)
}

func TestAnalyzeStrategy_PublishesEveryCycle(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(40, 100))}
	pub := &recordingPublisher{}
	r := New(source, zap.NewNop(), pub, nil)

	r.AnalyzeStrategy(context.Background(), increasedByStrategy(5), 7, "XBTUSD", nil)
	assert.Len(t, pub.published, 7)
}

func TestEvaluateStrategy_SetsPrice(t *testing.T) {
	source := &hourlySource{candles: hourlyCandles(flatCloses(40, 123.45))}
	r := New(source, zap.NewNop(), nil, nil)

	eval := r.EvaluateStrategy(context.Background(), increasedByStrategy(5), "XBTUSD", time.Time{})

	assert.Equal(t, "XBTUSD", eval.Symbol)
	assert.Equal(t, 123.45, eval.PriceUSD)
	assert.Len(t, eval.Rules, 1)
	assert.Empty(t, eval.TriggeredRules)
}
