package domain

import "time"

type RuleAction string
type RuleSeverity string
type ConditionOperator string

const (
	ActionAllow           RuleAction = "allow"
	ActionDeny            RuleAction = "deny"
	ActionFlag            RuleAction = "flag"
	ActionRequireApproval RuleAction = "require_approval"

	SeverityInfo     RuleSeverity = "info"
	SeverityWarning  RuleSeverity = "warning"
	SeverityError    RuleSeverity = "error"
	SeverityCritical RuleSeverity = "critical"

	OpEq      ConditionOperator = "eq"
	OpNeq     ConditionOperator = "neq"
	OpGt      ConditionOperator = "gt"
	OpGte     ConditionOperator = "gte"
	OpLt      ConditionOperator = "lt"
	OpLte     ConditionOperator = "lte"
	OpIn      ConditionOperator = "in"
	OpNotIn   ConditionOperator = "not_in"
	OpMatches ConditionOperator = "matches"

	LogicAnd ConditionOperator = "and"
	LogicOr  ConditionOperator = "or"
)

type Rule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Priority    int            `json:"priority"`
	Condition   *RuleCondition `json:"condition"`
	Action      RuleAction     `json:"action"`
	Severity    RuleSeverity   `json:"severity"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RuleCondition is either a leaf (Field/Operator/Value set) or a composite
// (Operator and/or with Children). Trees are built through the engine's
// constructors only, so cycles cannot occur.
type RuleCondition struct {
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
	Children []*RuleCondition  `json:"children,omitempty"`
}

func (c *RuleCondition) IsComposite() bool {
	return c.Operator == LogicAnd || c.Operator == LogicOr
}

func Leaf(field string, op ConditionOperator, value interface{}) *RuleCondition {
	return &RuleCondition{Field: field, Operator: op, Value: value}
}

func And(children ...*RuleCondition) *RuleCondition {
	return &RuleCondition{Operator: LogicAnd, Children: children}
}

func Or(children ...*RuleCondition) *RuleCondition {
	return &RuleCondition{Operator: LogicOr, Children: children}
}
