package exchange

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"strategy-backtester/internal/infrastructure"
	"strategy-backtester/internal/model"
)

// Exchange is the simulated order engine backing one backtest run.
// State is exclusively owned by that run: concurrent runs must each
// construct their own Exchange, which is why there is no locking here.
//
// SL/TP legs of one parent are siblings: triggering one does not
// cancel the other. Both stay pending until a close-position sweep.
type Exchange struct {
	logger   *zap.Logger
	open     map[string]model.OpenOrder
	pending  map[string]model.PendingOrder
	closed   map[string]model.ClosedOrder
	balances map[string]decimal.Decimal
}

func New(logger *zap.Logger) *Exchange {
	e := &Exchange{logger: logger}
	e.Reset()
	return e
}

// Reset clears all orders and balances; called at the start of every
// backtest run.
func (e *Exchange) Reset() {
	e.open = make(map[string]model.OpenOrder)
	e.pending = make(map[string]model.PendingOrder)
	e.closed = make(map[string]model.ClosedOrder)
	e.balances = make(map[string]decimal.Decimal)
}

// AddOrderParams describes a new parent order. PriceSL and PriceTP,
// when set, each spawn one pending child order on the opposite side.
type AddOrderParams struct {
	Pair             string
	Side             model.OrderSide
	OrderType        model.OrderType
	Volume           decimal.Decimal
	Price            decimal.Decimal
	Leverage         int
	PriceSL          *decimal.Decimal
	PriceTP          *decimal.Decimal
	TrailingDistance *decimal.Decimal
	Timestamp        time.Time
}

// AddOrderResult reports the opened order and any pending legs it
// spawned.
type AddOrderResult struct {
	Open     model.OpenOrder
	Pendings []model.PendingOrder
}

// AddOrder creates an OpenOrder plus its SL/TP pending legs. Market
// orders carry no trigger price and fill on the next tick.
func (e *Exchange) AddOrder(params AddOrderParams) (*AddOrderResult, error) {
	if params.Volume.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order volume must be positive, got %s", params.Volume)
	}

	var trigger *decimal.Decimal
	if params.OrderType != model.OrderMarket {
		p := params.Price
		trigger = &p
	}

	// Only a trailing parent ratchets; for other types the trailing
	// distance belongs to the TP leg.
	var parentTrailing *decimal.Decimal
	if params.OrderType == model.OrderTrailingStop || params.OrderType == model.OrderTrailingStopLimit {
		parentTrailing = params.TrailingDistance
	}

	order := model.OpenOrder{
		Order: model.Order{
			ID:               uuid.NewString(),
			Side:             params.Side,
			OrderType:        params.OrderType,
			Pair:             params.Pair,
			Volume:           params.Volume,
			Price:            params.Price,
			Leverage:         params.Leverage,
			EntryPrice:       params.Price,
			TriggerPrice:     trigger,
			TrailingDistance: parentTrailing,
		},
		CreatedAt: params.Timestamp,
	}
	e.open[order.ID] = order
	infrastructure.OrdersOpened.WithLabelValues(params.Pair, string(params.OrderType)).Inc()

	result := &AddOrderResult{Open: order}

	if params.PriceSL != nil {
		leg := e.newPendingLeg(order, model.OrderStopLoss, *params.PriceSL, nil, params.Timestamp)
		e.pending[leg.ID] = leg
		result.Pendings = append(result.Pendings, leg)
	}
	if params.PriceTP != nil {
		legType := model.OrderTakeProfit
		triggerPrice := *params.PriceTP
		if params.TrailingDistance != nil {
			legType = model.OrderTrailingStop
			// The trailing leg starts offset from the TP price by
			// the trailing distance; the ratchet takes over from
			// there. The leg side is the opposite of the parent.
			if params.Side.Opposite() == model.SideSell {
				triggerPrice = triggerPrice.Add(*params.TrailingDistance)
			} else {
				triggerPrice = triggerPrice.Sub(*params.TrailingDistance)
			}
		}
		leg := e.newPendingLeg(order, legType, triggerPrice, params.TrailingDistance, params.Timestamp)
		e.pending[leg.ID] = leg
		result.Pendings = append(result.Pendings, leg)
	}

	e.logger.Debug("order added",
		zap.String("id", order.ID),
		zap.String("pair", order.Pair),
		zap.String("type", string(order.OrderType)),
		zap.Int("pending_legs", len(result.Pendings)),
	)
	return result, nil
}

func (e *Exchange) newPendingLeg(parent model.OpenOrder, legType model.OrderType, trigger decimal.Decimal, trailing *decimal.Decimal, ts time.Time) model.PendingOrder {
	return model.PendingOrder{
		Order: model.Order{
			ID:               uuid.NewString(),
			Side:             parent.Side.Opposite(),
			OrderType:        legType,
			Pair:             parent.Pair,
			Volume:           parent.Volume,
			Price:            trigger,
			Leverage:         parent.Leverage,
			EntryPrice:       parent.EntryPrice,
			TriggerPrice:     &trigger,
			TrailingDistance: trailing,
		},
		ParentID:  parent.ID,
		CreatedAt: ts,
	}
}

// UpdateResult reports what one tick did: orders filled on this tick
// and pending legs promoted to open because their parent filled.
type UpdateResult struct {
	Triggered []model.ClosedOrder
	Activated []model.OpenOrder
}

// UpdateOrders advances every open order (optionally only one pair)
// against a price tick: trailing triggers ratchet first, then trigger
// conditions are checked. Filled orders close as completed and promote
// their pending children; promoted children are first checked on the
// next tick.
func (e *Exchange) UpdateOrders(timestamp time.Time, price decimal.Decimal, pair string) UpdateResult {
	var result UpdateResult

	for _, id := range e.sortedOpenIDs() {
		order := e.open[id]
		if pair != "" && order.Pair != pair {
			continue
		}

		if order.TrailingDistance != nil && order.TriggerPrice != nil {
			ratcheted := ratchetTrigger(order.Side, *order.TriggerPrice, price, *order.TrailingDistance)
			order.TriggerPrice = &ratcheted
			e.open[id] = order
		}

		if !shouldTrigger(order.Order, price) {
			continue
		}

		closed := model.ClosedOrder{
			Order:      order.Order,
			ClosePrice: price,
			Status:     model.StatusCompleted,
			CreatedAt:  order.CreatedAt,
			ClosedAt:   timestamp,
		}
		delete(e.open, id)
		e.closed[id] = closed
		result.Triggered = append(result.Triggered, closed)

		for _, child := range e.childrenOf(id) {
			delete(e.pending, child.ID)
			activated := model.OpenOrder{Order: child.Order, CreatedAt: timestamp}
			e.open[child.ID] = activated
			result.Activated = append(result.Activated, activated)
		}
	}

	return result
}

// ratchetTrigger moves a trailing trigger monotonically favorably: a
// buy trigger only ever rises, a sell trigger only ever falls.
func ratchetTrigger(side model.OrderSide, trigger, price, distance decimal.Decimal) decimal.Decimal {
	if side == model.SideBuy {
		candidate := price.Sub(distance)
		if candidate.GreaterThan(trigger) {
			return candidate
		}
		return trigger
	}
	candidate := price.Add(distance)
	if candidate.LessThan(trigger) {
		return candidate
	}
	return trigger
}

// shouldTrigger applies the per-type trigger conventions: limit fills
// on the favorable side of the trigger, stop-loss on the adverse side,
// take-profit and trailing-stop follow the limit-style convention.
func shouldTrigger(order model.Order, price decimal.Decimal) bool {
	if order.OrderType == model.OrderMarket || order.TriggerPrice == nil {
		return true
	}
	trigger := *order.TriggerPrice

	switch order.OrderType {
	case model.OrderLimit:
		if order.Side == model.SideBuy {
			return price.LessThanOrEqual(trigger)
		}
		return price.GreaterThanOrEqual(trigger)
	case model.OrderStopLoss, model.OrderStopLossLimit:
		if order.Side == model.SideBuy {
			return price.GreaterThanOrEqual(trigger)
		}
		return price.LessThanOrEqual(trigger)
	case model.OrderTakeProfit, model.OrderTakeProfitLimit, model.OrderTrailingStop, model.OrderTrailingStopLimit:
		if order.Side == model.SideBuy {
			return price.LessThanOrEqual(trigger)
		}
		return price.GreaterThanOrEqual(trigger)
	default:
		return false
	}
}

// CloseAllOrders force-closes every open and pending order for a pair
// at its nominal price with status canceled. Used by the
// close-position action.
func (e *Exchange) CloseAllOrders(pair string, timestamp time.Time) []model.ClosedOrder {
	var out []model.ClosedOrder

	for _, id := range e.sortedOpenIDs() {
		order := e.open[id]
		if order.Pair != pair {
			continue
		}
		closed := model.ClosedOrder{
			Order:      order.Order,
			ClosePrice: order.Price,
			Status:     model.StatusCanceled,
			CreatedAt:  order.CreatedAt,
			ClosedAt:   timestamp,
		}
		delete(e.open, id)
		e.closed[id] = closed
		out = append(out, closed)
	}

	for _, id := range e.sortedPendingIDs() {
		order := e.pending[id]
		if order.Pair != pair {
			continue
		}
		closed := model.ClosedOrder{
			Order:      order.Order,
			ClosePrice: order.Price,
			Status:     model.StatusCanceled,
			CreatedAt:  order.CreatedAt,
			ClosedAt:   timestamp,
		}
		delete(e.pending, id)
		e.closed[id] = closed
		out = append(out, closed)
	}

	return out
}

// CancelOrder cancels one open or pending order. Canceling an open
// order discards its pending children without recording them.
func (e *Exchange) CancelOrder(id string, timestamp time.Time) (*model.ClosedOrder, error) {
	if order, ok := e.open[id]; ok {
		closed := model.ClosedOrder{
			Order:      order.Order,
			ClosePrice: order.Price,
			Status:     model.StatusCanceled,
			CreatedAt:  order.CreatedAt,
			ClosedAt:   timestamp,
		}
		delete(e.open, id)
		e.closed[id] = closed

		for _, child := range e.childrenOf(id) {
			delete(e.pending, child.ID)
		}
		return &closed, nil
	}

	if order, ok := e.pending[id]; ok {
		closed := model.ClosedOrder{
			Order:      order.Order,
			ClosePrice: order.Price,
			Status:     model.StatusCanceled,
			CreatedAt:  order.CreatedAt,
			ClosedAt:   timestamp,
		}
		delete(e.pending, id)
		e.closed[id] = closed
		return &closed, nil
	}

	return nil, fmt.Errorf("no open or pending order with id %s", id)
}

// OpenOrders returns the open orders, oldest first, optionally
// filtered by pair.
func (e *Exchange) OpenOrders(pair string) []model.OpenOrder {
	var out []model.OpenOrder
	for _, id := range e.sortedOpenIDs() {
		order := e.open[id]
		if pair == "" || order.Pair == pair {
			out = append(out, order)
		}
	}
	return out
}

// PendingOrders returns the pending orders, oldest first, optionally
// filtered by pair.
func (e *Exchange) PendingOrders(pair string) []model.PendingOrder {
	var out []model.PendingOrder
	for _, id := range e.sortedPendingIDs() {
		order := e.pending[id]
		if pair == "" || order.Pair == pair {
			out = append(out, order)
		}
	}
	return out
}

// ClosedOrders returns all closed orders, oldest close first.
func (e *Exchange) ClosedOrders() []model.ClosedOrder {
	out := make([]model.ClosedOrder, 0, len(e.closed))
	for _, order := range e.closed {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClosedAt.Equal(out[j].ClosedAt) {
			return out[i].ClosedAt.Before(out[j].ClosedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Exchange) childrenOf(parentID string) []model.PendingOrder {
	var out []model.PendingOrder
	for _, id := range e.sortedPendingIDs() {
		if e.pending[id].ParentID == parentID {
			out = append(out, e.pending[id])
		}
	}
	return out
}

// Map iteration order is random; backtests must be deterministic, so
// orders are always walked oldest-created first.
func (e *Exchange) sortedOpenIDs() []string {
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.open[ids[i]], e.open[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

func (e *Exchange) sortedPendingIDs() []string {
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.pending[ids[i]], e.pending[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ids
}

// SetAccountBalance sets the balance for one currency.
func (e *Exchange) SetAccountBalance(currency string, amount decimal.Decimal) {
	e.balances[currency] = amount
}

// GetAccountBalance returns the balance for one currency, zero when
// the currency is unknown.
func (e *Exchange) GetAccountBalance(currency string) decimal.Decimal {
	if b, ok := e.balances[currency]; ok {
		return b
	}
	return decimal.Zero
}

// GetAllBalances returns a copy of the balance map.
func (e *Exchange) GetAllBalances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out
}

// ResetBalance removes one currency from the balance map.
func (e *Exchange) ResetBalance(currency string) {
	delete(e.balances, currency)
}
