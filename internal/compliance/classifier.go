package compliance

import "labcore/pkg/domain"

// Classifier evaluates compliance rules in registration order. The first rule
// whose conditions all hold decides the status.
type Classifier struct {
	rules []domain.ComplianceRule
}

// NewClassifier constructs a classifier with the given ordered rules.
func NewClassifier(rules ...domain.ComplianceRule) *Classifier {
	c := &Classifier{}
	for _, rule := range rules {
		c.Register(rule)
	}
	return c
}

// Register appends a rule; it is consulted after every rule registered before it.
func (c *Classifier) Register(rule domain.ComplianceRule) {
	c.rules = append(c.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (c *Classifier) Rules() []domain.ComplianceRule {
	return append([]domain.ComplianceRule(nil), c.rules...)
}

// Classify returns the first matching rule.
func (c *Classifier) Classify(aggregates, params map[string]float64) (domain.ComplianceRule, bool) {
	for _, rule := range c.rules {
		if Matches(rule, aggregates, params) {
			return rule, true
		}
	}
	return domain.ComplianceRule{}, false
}

// Matches reports whether every condition of rule holds.
func Matches(rule domain.ComplianceRule, aggregates, params map[string]float64) bool {
	for _, cond := range rule.When {
		if !Holds(cond, aggregates, params) {
			return false
		}
	}
	return true
}

// Holds evaluates a single condition. Names resolve against aggregates first,
// then params. A condition over an absent value never holds.
func Holds(cond domain.Condition, aggregates, params map[string]float64) bool {
	left, ok := resolve(cond.Metric, aggregates, params)
	if !ok {
		return false
	}
	var right float64
	switch {
	case cond.Value != nil:
		right = *cond.Value
	case cond.Ref != "":
		if right, ok = resolve(cond.Ref, aggregates, params); !ok {
			return false
		}
	default:
		return false
	}
	switch cond.Op {
	case domain.OpLess:
		return left < right
	case domain.OpLessEqual:
		return left <= right
	case domain.OpGreater:
		return left > right
	case domain.OpGreaterEqual:
		return left >= right
	case domain.OpEqual:
		return left == right
	case domain.OpNotEqual:
		return left != right
	default:
		return false
	}
}

func resolve(name string, aggregates, params map[string]float64) (float64, bool) {
	if v, ok := aggregates[name]; ok {
		return v, true
	}
	v, ok := params[name]
	return v, ok
}
