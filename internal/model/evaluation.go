package model

import "time"

// ConditionEvaluation is always produced, even on failure, so callers
// can render partial diagnostics. Result defaults to false and Error
// explains why when resolution failed.
type ConditionEvaluation struct {
	ConditionIndex  int       `json:"conditionIndex"`
	Condition       Condition `json:"condition"`
	CurrentValue    *float64  `json:"currentValue,omitempty"`
	PreviousValue   *float64  `json:"previousValue,omitempty"`
	ComparisonValue *float64  `json:"comparisonValue,omitempty"`
	Result          bool      `json:"result"`
	Error           string    `json:"error,omitempty"`
}

// RuleEvaluation records the outcome of every condition of one rule.
// AllConditionsMet requires at least one condition: an empty rule
// never triggers.
type RuleEvaluation struct {
	RuleIndex        int                   `json:"ruleIndex"`
	RuleName         string                `json:"ruleName"`
	Conditions       []ConditionEvaluation `json:"conditions"`
	AllConditionsMet bool                  `json:"allConditionsMet"`
	Actions          []Action              `json:"actions"`
}

// StrategyEvaluation is the append-only record of one backtest cycle
// (or one point-in-time evaluation).
type StrategyEvaluation struct {
	Symbol                 string           `json:"symbol"`
	PriceUSD               float64          `json:"priceUSD"`
	EvaluatedAt            time.Time        `json:"evaluatedAt"`
	Rules                  []RuleEvaluation `json:"rules"`
	TriggeredRules         []RuleEvaluation `json:"triggeredRules"`
	TriggeredOrders        []ClosedOrder    `json:"triggeredOrders"`
	ActivatedPendingOrders []OpenOrder      `json:"activatedPendingOrders"`
	ClosedOrders           []ClosedOrder    `json:"closedOrders"`
	OpenedOrders           []OpenOrder      `json:"openedOrders"`
	OpenedPendingOrders    []PendingOrder   `json:"openedPendingOrders"`
}
