package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the other side; used for SL/TP legs which close the
// parent position.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderMarket            OrderType = "market"
	OrderLimit             OrderType = "limit"
	OrderStopLoss          OrderType = "stop-loss"
	OrderTakeProfit        OrderType = "take-profit"
	OrderTrailingStop      OrderType = "trailing-stop"
	OrderStopLossLimit     OrderType = "stop-loss-limit"
	OrderTakeProfitLimit   OrderType = "take-profit-limit"
	OrderTrailingStopLimit OrderType = "trailing-stop-limit"
)

type OrderStatus string

const (
	StatusCompleted OrderStatus = "completed"
	StatusCanceled  OrderStatus = "canceled"
)

// Order is the shared shape of every order tracked by the simulated
// exchange. TriggerPrice is nil for market orders (immediate fill).
type Order struct {
	ID               string           `json:"id"`
	Side             OrderSide        `json:"side"`
	OrderType        OrderType        `json:"orderType"`
	Pair             string           `json:"pair"`
	Volume           decimal.Decimal  `json:"volume"`
	Price            decimal.Decimal  `json:"price"`
	Leverage         int              `json:"leverage,omitempty"`
	EntryPrice       decimal.Decimal  `json:"entryPrice"`
	TriggerPrice     *decimal.Decimal `json:"triggerPrice"`
	TrailingDistance *decimal.Decimal `json:"trailingDistance"`
}

// OpenOrder lives in the open set and is checked against every tick.
type OpenOrder struct {
	Order
	CreatedAt time.Time `json:"createdAt"`
}

// PendingOrder is a child order (SL, TP or trailing leg) that becomes
// open only when its parent order triggers.
type PendingOrder struct {
	Order
	ParentID  string    `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClosedOrder is terminal and immutable once written.
type ClosedOrder struct {
	Order
	ClosePrice decimal.Decimal `json:"closePrice"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	ClosedAt   time.Time       `json:"closedAt"`
}
