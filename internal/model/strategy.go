package model

import "fmt"

// ConditionType enumerates the supported condition predicates.
type ConditionType string

const (
	ConditionIncreasedBy   ConditionType = "increased-by"
	ConditionDecreasedBy   ConditionType = "decreased-by"
	ConditionGreaterThan   ConditionType = "greater-than"
	ConditionLowerThan     ConditionType = "lower-than"
	ConditionCrossingAbove ConditionType = "crossing-above"
	ConditionCrossingBelow ConditionType = "crossing-below"
)

// StaticValueOperand is the sentinel for Indicator2 meaning "compare
// against the literal Value field instead of a second indicator".
const StaticValueOperand = "Value"

// ConditionOptions carries the operands of a condition. Which fields
// are required depends on the condition type; Validate enforces it.
type ConditionOptions struct {
	Indicator1 string    `json:"indicator1"`
	Timeframe1 Timeframe `json:"timeframe1"`
	Indicator2 string    `json:"indicator2,omitempty"`
	Timeframe2 Timeframe `json:"timeframe2,omitempty"`
	Value      *float64  `json:"value,omitempty"`
}

type Condition struct {
	Type    ConditionType    `json:"type"`
	Options ConditionOptions `json:"options"`
}

// ActionType enumerates what a triggered rule may do.
type ActionType string

const (
	ActionBuy           ActionType = "buy"
	ActionSell          ActionType = "sell"
	ActionBuyLimit      ActionType = "buy-limit"
	ActionSellLimit     ActionType = "sell-limit"
	ActionOpenPosition  ActionType = "open-position"
	ActionClosePosition ActionType = "close-position"
	ActionNotify        ActionType = "notify-me"
)

// AmountUnit selects how Action.Amount is interpreted when sizing orders.
type AmountUnit string

const (
	UnitUSD     AmountUnit = "USD"
	UnitPercent AmountUnit = "%"
	UnitCoin    AmountUnit = "Coin"
)

// ActionOptions carries the parameters of an action. As with
// conditions, the valid subset depends on the action type.
type ActionOptions struct {
	Amount       float64    `json:"amount,omitempty"`
	Unit         AmountUnit `json:"unit,omitempty"`
	Side         string     `json:"side,omitempty"`
	Leverage     int        `json:"leverage,omitempty"`
	StopLoss     float64    `json:"stopLoss,omitempty"`     // percent below/above entry
	TakeProfit   float64    `json:"takeProfit,omitempty"`   // percent above/below entry
	TrailingStop float64    `json:"trailingStop,omitempty"` // percent trailing distance
	LimitPrice   float64    `json:"limitPrice,omitempty"`
	UnitLimit    AmountUnit `json:"unitLimit,omitempty"`
	OrderType    string     `json:"orderType,omitempty"` // "Stop Loss", "Take Profit", "Trailing Stop", "Limit", "Market"
	Channel      string     `json:"channel,omitempty"`
	Message      string     `json:"message,omitempty"`
}

type Action struct {
	Action  ActionType    `json:"action"`
	Options ActionOptions `json:"options"`
}

// Rule is the atomic trigger unit: all conditions must hold for the
// actions to run.
type Rule struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

// ExecutionOptions controls the cadence of a strategy run.
type ExecutionOptions struct {
	RunIntervalMinutes               int `json:"runIntervalMinutes,omitempty"`
	MaximumExecuteCount              int `json:"maximumExecuteCount,omitempty"`
	IntervalBetweenExecutionsMinutes int `json:"intervalBetweenExecutionsMinutes,omitempty"`
	MaximumOpenPositions             int `json:"maximumOpenPositions,omitempty"`
}

// StrategyTemplate is the immutable input to the runner.
type StrategyTemplate struct {
	StrategyID       string           `json:"strategyId"`
	StrategyName     string           `json:"strategyName"`
	Symbols          []string         `json:"symbols"`
	ExecutionOptions ExecutionOptions `json:"executionOptions"`
	Rules            []Rule           `json:"rules"`
}

var conditionTypes = map[ConditionType]bool{
	ConditionIncreasedBy:   true,
	ConditionDecreasedBy:   true,
	ConditionGreaterThan:   true,
	ConditionLowerThan:     true,
	ConditionCrossingAbove: true,
	ConditionCrossingBelow: true,
}

var actionTypes = map[ActionType]bool{
	ActionBuy:           true,
	ActionSell:          true,
	ActionBuyLimit:      true,
	ActionSellLimit:     true,
	ActionOpenPosition:  true,
	ActionClosePosition: true,
	ActionNotify:        true,
}

// Validate checks a template and returns a list of human-readable
// problems. An empty list means the template is usable.
func (s *StrategyTemplate) Validate() []string {
	var errs []string

	if s.StrategyName == "" {
		errs = append(errs, "strategy name is required")
	}
	if len(s.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if len(s.Rules) == 0 {
		errs = append(errs, "at least one rule is required")
	}

	for ri, rule := range s.Rules {
		if rule.Name == "" {
			errs = append(errs, fmt.Sprintf("rule %d: name is required", ri))
		}
		for ci, cond := range rule.Conditions {
			errs = append(errs, validateCondition(ri, ci, cond)...)
		}
		for ai, act := range rule.Actions {
			errs = append(errs, validateAction(ri, ai, act)...)
		}
	}

	return errs
}

func validateCondition(ri, ci int, cond Condition) []string {
	var errs []string
	prefix := fmt.Sprintf("rule %d condition %d", ri, ci)

	if !conditionTypes[cond.Type] {
		errs = append(errs, fmt.Sprintf("%s: unknown condition type %q", prefix, cond.Type))
		return errs
	}
	if cond.Options.Indicator1 == "" {
		errs = append(errs, fmt.Sprintf("%s: indicator1 is required", prefix))
	}
	if !cond.Options.Timeframe1.Valid() {
		errs = append(errs, fmt.Sprintf("%s: invalid timeframe1 %q", prefix, cond.Options.Timeframe1))
	}

	switch cond.Type {
	case ConditionIncreasedBy, ConditionDecreasedBy:
		if cond.Options.Value == nil {
			errs = append(errs, fmt.Sprintf("%s: target percentage value is required", prefix))
		}
	case ConditionGreaterThan, ConditionLowerThan, ConditionCrossingAbove, ConditionCrossingBelow:
		if cond.Options.Indicator2 == "" {
			errs = append(errs, fmt.Sprintf("%s: indicator2 is required", prefix))
		} else if cond.Options.Indicator2 == StaticValueOperand {
			if cond.Options.Value == nil {
				errs = append(errs, fmt.Sprintf("%s: value is required when indicator2 is %q", prefix, StaticValueOperand))
			}
		} else if !cond.Options.Timeframe2.Valid() {
			errs = append(errs, fmt.Sprintf("%s: invalid timeframe2 %q", prefix, cond.Options.Timeframe2))
		}
	}

	return errs
}

func validateAction(ri, ai int, act Action) []string {
	var errs []string
	prefix := fmt.Sprintf("rule %d action %d", ri, ai)

	if !actionTypes[act.Action] {
		errs = append(errs, fmt.Sprintf("%s: unknown action type %q", prefix, act.Action))
		return errs
	}

	switch act.Action {
	case ActionBuy, ActionSell, ActionBuyLimit, ActionSellLimit, ActionOpenPosition:
		if act.Options.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("%s: amount must be positive", prefix))
		}
		switch act.Options.Unit {
		case UnitUSD, UnitPercent, UnitCoin:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown amount unit %q", prefix, act.Options.Unit))
		}
	case ActionNotify:
		if act.Options.Message == "" {
			errs = append(errs, fmt.Sprintf("%s: notification message is required", prefix))
		}
	}

	return errs
}
