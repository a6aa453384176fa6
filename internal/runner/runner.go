package runner

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-backtester/internal/connector"
	"strategy-backtester/internal/evaluator"
	"strategy-backtester/internal/exchange"
	"strategy-backtester/internal/infrastructure"
	"strategy-backtester/internal/model"
)

const defaultRunIntervalMinutes = 15

// Publisher receives every completed cycle evaluation, e.g. to stream
// it to websocket clients. May be nil.
type Publisher interface {
	PublishEvaluation(symbol string, eval model.StrategyEvaluation)
}

// Notifier delivers notify-me rule actions. May be nil.
type Notifier interface {
	Notify(ctx context.Context, strategy, rule, channel, message string) error
}

// Balance is one initial per-currency balance of a backtest run.
type Balance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Runner drives strategy evaluations and historical backtests. It
// holds no per-run state: every run constructs its own candle cache
// and exchange, so concurrent runs are isolated.
type Runner struct {
	source    connector.CandleSource
	logger    *zap.Logger
	publisher Publisher
	notifier  Notifier
}

func New(source connector.CandleSource, logger *zap.Logger, publisher Publisher, notifier Notifier) *Runner {
	return &Runner{
		source:    source,
		logger:    logger,
		publisher: publisher,
		notifier:  notifier,
	}
}

// EvaluateStrategy evaluates every rule of the strategy at one point
// in time (now when asOf is zero) without placing any orders.
func (r *Runner) EvaluateStrategy(ctx context.Context, strategy *model.StrategyTemplate, symbol string, asOf time.Time) model.StrategyEvaluation {
	if asOf.IsZero() {
		asOf = time.Now()
	}

	cache := connector.NewCache(r.source, r.logger)
	ev := evaluator.New(cache, r.logger)

	evaluation := r.evaluateRules(ctx, ev, strategy, symbol, asOf)

	price, err := cache.TickPrice(ctx, symbol, asOf)
	if err != nil {
		r.logger.Warn("could not resolve tick price",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	} else {
		evaluation.PriceUSD = price
	}

	return evaluation
}

// AnalyzeStrategy replays the strategy over cycleCount historical
// cycles against a fresh simulated exchange. The returned slice holds
// exactly one evaluation per cycle, oldest simulated time first. No
// error category aborts the replay: broken conditions surface in
// per-condition error fields and a missing tick price skips only that
// cycle's order flow.
func (r *Runner) AnalyzeStrategy(ctx context.Context, strategy *model.StrategyTemplate, cycleCount int, symbol string, balances []Balance) []model.StrategyEvaluation {
	exch := exchange.New(r.logger)
	for _, b := range balances {
		exch.SetAccountBalance(b.Currency, b.Amount)
	}

	cache := connector.NewCache(r.source, r.logger)
	ev := evaluator.New(cache, r.logger)

	intervalMinutes := strategy.ExecutionOptions.RunIntervalMinutes
	if intervalMinutes <= 0 {
		intervalMinutes = defaultRunIntervalMinutes
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	startTime := time.Now().Add(-time.Duration(cycleCount) * interval)

	// Rule trigger bookkeeping persists across cycles: last fire time
	// for rate limiting, total fires for the execution cap.
	lastTriggered := make(map[int]time.Time)
	fireCounts := make(map[int]int)

	evaluations := make([]model.StrategyEvaluation, 0, cycleCount)

	for i := 0; i < cycleCount; i++ {
		until := startTime.Add(time.Duration(i) * interval)
		evaluation := r.runCycle(ctx, ev, cache, exch, strategy, symbol, until, lastTriggered, fireCounts)
		evaluations = append(evaluations, evaluation)

		infrastructure.BacktestCycles.WithLabelValues(symbol).Inc()
		if r.publisher != nil {
			r.publisher.PublishEvaluation(symbol, evaluation)
		}
	}

	return evaluations
}

func (r *Runner) evaluateRules(ctx context.Context, ev *evaluator.Evaluator, strategy *model.StrategyTemplate, symbol string, asOf time.Time) model.StrategyEvaluation {
	evaluation := model.StrategyEvaluation{
		Symbol:      symbol,
		EvaluatedAt: asOf,
		Rules:       make([]model.RuleEvaluation, 0, len(strategy.Rules)),
	}

	for ri, rule := range strategy.Rules {
		re := ev.EvaluateRule(ctx, symbol, rule, ri, asOf)
		evaluation.Rules = append(evaluation.Rules, re)
		if re.AllConditionsMet {
			evaluation.TriggeredRules = append(evaluation.TriggeredRules, re)
		}
	}

	return evaluation
}

func (r *Runner) runCycle(
	ctx context.Context,
	ev *evaluator.Evaluator,
	cache *connector.Cache,
	exch *exchange.Exchange,
	strategy *model.StrategyTemplate,
	symbol string,
	until time.Time,
	lastTriggered map[int]time.Time,
	fireCounts map[int]int,
) model.StrategyEvaluation {
	evaluation := r.evaluateRules(ctx, ev, strategy, symbol, until)

	firing := r.applyRateLimit(strategy, evaluation.TriggeredRules, until, lastTriggered, fireCounts)
	evaluation.TriggeredRules = firing

	price, err := cache.TickPrice(ctx, symbol, until)
	if err != nil {
		// Without a price this cycle cannot place or advance orders,
		// but the evaluation record itself is still valid output.
		r.logger.Warn("skipping order flow for cycle, no tick price",
			zap.String("symbol", symbol),
			zap.Time("until", until),
			zap.Error(err),
		)
		r.recordFires(firing, until, lastTriggered, fireCounts)
		return evaluation
	}
	evaluation.PriceUSD = price
	tick := decimal.NewFromFloat(price)

	for _, re := range firing {
		for _, action := range re.Actions {
			r.applyAction(ctx, exch, strategy, re.RuleName, action, symbol, tick, until, &evaluation)
		}
	}

	update := exch.UpdateOrders(until, tick, symbol)
	evaluation.TriggeredOrders = update.Triggered
	evaluation.ActivatedPendingOrders = update.Activated

	r.recordFires(firing, until, lastTriggered, fireCounts)
	return evaluation
}

// applyRateLimit drops triggered rules that fired within the
// configured cooldown window or already reached the execution cap.
func (r *Runner) applyRateLimit(strategy *model.StrategyTemplate, triggered []model.RuleEvaluation, until time.Time, lastTriggered map[int]time.Time, fireCounts map[int]int) []model.RuleEvaluation {
	cooldown := time.Duration(strategy.ExecutionOptions.IntervalBetweenExecutionsMinutes) * time.Minute
	maxFires := strategy.ExecutionOptions.MaximumExecuteCount

	out := make([]model.RuleEvaluation, 0, len(triggered))
	for _, re := range triggered {
		if cooldown > 0 {
			if last, ok := lastTriggered[re.RuleIndex]; ok && until.Sub(last) < cooldown {
				continue
			}
		}
		if maxFires > 0 && fireCounts[re.RuleIndex] >= maxFires {
			continue
		}
		out = append(out, re)
	}
	return out
}

// recordFires marks the fire time and count for every rule that fired
// this cycle, whether or not its actions produced orders.
func (r *Runner) recordFires(firing []model.RuleEvaluation, until time.Time, lastTriggered map[int]time.Time, fireCounts map[int]int) {
	for _, re := range firing {
		lastTriggered[re.RuleIndex] = until
		fireCounts[re.RuleIndex]++
	}
}
