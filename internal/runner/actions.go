package runner

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-backtester/internal/exchange"
	"strategy-backtester/internal/model"
)

var percentBase = decimal.NewFromInt(100)

// applyAction translates one triggered rule action into order-engine
// calls and folds the outcome into the cycle evaluation.
func (r *Runner) applyAction(
	ctx context.Context,
	exch *exchange.Exchange,
	strategy *model.StrategyTemplate,
	ruleName string,
	action model.Action,
	symbol string,
	tick decimal.Decimal,
	until time.Time,
	evaluation *model.StrategyEvaluation,
) {
	switch action.Action {
	case model.ActionClosePosition:
		closed := exch.CloseAllOrders(symbol, until)
		evaluation.ClosedOrders = append(evaluation.ClosedOrders, closed...)
		return

	case model.ActionNotify:
		if r.notifier == nil {
			r.logger.Info("notification (no notifier configured)",
				zap.String("rule", ruleName),
				zap.String("message", action.Options.Message),
			)
			return
		}
		if err := r.notifier.Notify(ctx, strategy.StrategyName, ruleName, action.Options.Channel, action.Options.Message); err != nil {
			r.logger.Warn("failed to deliver notification", zap.Error(err))
		}
		return

	case model.ActionBuy, model.ActionSell, model.ActionBuyLimit, model.ActionSellLimit, model.ActionOpenPosition:
		// handled below
	default:
		r.logger.Warn("unknown action type, skipping", zap.String("action", string(action.Action)))
		return
	}

	maxOpen := strategy.ExecutionOptions.MaximumOpenPositions
	if maxOpen > 0 && len(exch.OpenOrders(symbol)) >= maxOpen {
		r.logger.Debug("maximum open positions reached, skipping action",
			zap.String("symbol", symbol),
			zap.Int("max", maxOpen),
		)
		return
	}

	side := actionSide(action)
	volume := r.orderVolume(exch, action.Options, tick)
	if volume.LessThanOrEqual(decimal.Zero) {
		r.logger.Warn("action resolves to non-positive volume, skipping",
			zap.String("rule", ruleName),
			zap.String("action", string(action.Action)),
		)
		return
	}

	params := exchange.AddOrderParams{
		Pair:      symbol,
		Side:      side,
		Volume:    volume,
		Leverage:  action.Options.Leverage,
		Timestamp: until,
	}
	params.OrderType, params.Price = orderTypeAndPrice(action, side, tick)
	if params.OrderType == model.OrderTrailingStop {
		d := limitDistance(action.Options, tick)
		params.TrailingDistance = &d
	}

	if action.Options.StopLoss > 0 {
		sl := offsetPercent(tick, action.Options.StopLoss, side == model.SideSell)
		params.PriceSL = &sl
	}
	if action.Options.TakeProfit > 0 || action.Options.TrailingStop > 0 {
		tpPercent := action.Options.TakeProfit
		tp := offsetPercent(tick, tpPercent, side == model.SideBuy)
		params.PriceTP = &tp
		if action.Options.TrailingStop > 0 {
			dist := tick.Mul(decimal.NewFromFloat(action.Options.TrailingStop)).Div(percentBase)
			params.TrailingDistance = &dist
		}
	}

	result, err := exch.AddOrder(params)
	if err != nil {
		r.logger.Warn("failed to add order",
			zap.String("rule", ruleName),
			zap.Error(err),
		)
		return
	}
	evaluation.OpenedOrders = append(evaluation.OpenedOrders, result.Open)
	evaluation.OpenedPendingOrders = append(evaluation.OpenedPendingOrders, result.Pendings...)
}

func actionSide(action model.Action) model.OrderSide {
	switch action.Action {
	case model.ActionSell, model.ActionSellLimit:
		return model.SideSell
	case model.ActionOpenPosition:
		if action.Options.Side == string(model.SideSell) {
			return model.SideSell
		}
		return model.SideBuy
	default:
		return model.SideBuy
	}
}

// orderTypeAndPrice maps the action's order type label to an engine
// order type and its trigger price. Stop/take/trailing labels place
// the trigger a sign-adjusted distance from the tick; limit actions
// use the literal limit price; everything else is a market order.
func orderTypeAndPrice(action model.Action, side model.OrderSide, tick decimal.Decimal) (model.OrderType, decimal.Decimal) {
	opts := action.Options

	switch opts.OrderType {
	case "Stop Loss":
		d := limitDistance(opts, tick)
		if side == model.SideBuy {
			return model.OrderStopLoss, tick.Add(d)
		}
		return model.OrderStopLoss, tick.Sub(d)
	case "Take Profit":
		d := limitDistance(opts, tick)
		if side == model.SideBuy {
			return model.OrderTakeProfit, tick.Sub(d)
		}
		return model.OrderTakeProfit, tick.Add(d)
	case "Trailing Stop":
		d := limitDistance(opts, tick)
		if side == model.SideBuy {
			return model.OrderTrailingStop, tick.Sub(d)
		}
		return model.OrderTrailingStop, tick.Add(d)
	}

	if action.Action == model.ActionBuyLimit || action.Action == model.ActionSellLimit || opts.OrderType == "Limit" {
		return model.OrderLimit, decimal.NewFromFloat(opts.LimitPrice)
	}
	return model.OrderMarket, tick
}

// limitDistance converts the limit price option into an absolute
// distance from the tick, honoring the percent unit.
func limitDistance(opts model.ActionOptions, tick decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(opts.LimitPrice)
	if opts.UnitLimit == model.UnitPercent {
		return tick.Mul(v).Div(percentBase)
	}
	return v
}

// orderVolume sizes the order in base currency: USD amounts and
// percentage-of-balance amounts are divided by the tick price, coin
// amounts pass through.
func (r *Runner) orderVolume(exch *exchange.Exchange, opts model.ActionOptions, tick decimal.Decimal) decimal.Decimal {
	amount := decimal.NewFromFloat(opts.Amount)
	if tick.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	switch opts.Unit {
	case model.UnitCoin:
		return amount
	case model.UnitPercent:
		balance := exch.GetAccountBalance("USD")
		value := balance.Mul(amount).Div(percentBase)
		return value.Div(tick)
	default: // USD
		return amount.Div(tick)
	}
}

// offsetPercent shifts the tick by pct percent, upward when up is
// true.
func offsetPercent(tick decimal.Decimal, pct float64, up bool) decimal.Decimal {
	delta := tick.Mul(decimal.NewFromFloat(pct)).Div(percentBase)
	if up {
		return tick.Add(delta)
	}
	return tick.Sub(delta)
}
