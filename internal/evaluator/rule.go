package evaluator

import (
	"context"
	"time"

	"strategy-backtester/internal/model"
)

// EvaluateRule evaluates every condition of a rule. All conditions are
// always evaluated, even after one fails, so the caller gets the full
// diagnostic picture. A rule with zero conditions never triggers.
func (ev *Evaluator) EvaluateRule(ctx context.Context, symbol string, rule model.Rule, index int, asOf time.Time) model.RuleEvaluation {
	evaluation := model.RuleEvaluation{
		RuleIndex:  index,
		RuleName:   rule.Name,
		Conditions: make([]model.ConditionEvaluation, 0, len(rule.Conditions)),
		Actions:    rule.Actions,
	}

	allMet := len(rule.Conditions) > 0
	for ci, cond := range rule.Conditions {
		ce := ev.EvaluateCondition(ctx, symbol, cond, ci, asOf)
		evaluation.Conditions = append(evaluation.Conditions, ce)
		if !ce.Result {
			allMet = false
		}
	}
	evaluation.AllConditionsMet = allMet

	return evaluation
}
