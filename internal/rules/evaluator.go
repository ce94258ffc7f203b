package rules

import "github.com/settlr/fraud-service/internal/signal"

// Evaluator applies an ordered, immutable rule list to signal sets.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator over the given rules. The slice is
// copied; the rule order is the declared order and fixes the order of
// contributions in every score.
func NewEvaluator(ruleList []Rule) *Evaluator {
	return &Evaluator{rules: append([]Rule(nil), ruleList...)}
}

// Rules returns the number of registered rules.
func (e *Evaluator) Rules() int { return len(e.rules) }

// Evaluate computes the risk score for one signal set. An empty rule list
// yields a zero score, not an error. The result is deterministic: identical
// signal sets always produce identical scores and contribution orderings.
func (e *Evaluator) Evaluate(s signal.Set) RiskScore {
	score := RiskScore{}
	for _, r := range e.rules {
		triggered, contribution := r.Evaluate(s)
		if !triggered {
			continue
		}
		c := Contribution{
			Rule:         r.Name(),
			Contribution: contribution,
			Weight:       r.Weight(),
		}
		score.Contributions = append(score.Contributions, c)
		score.Value += c.Points()
	}
	return score
}
