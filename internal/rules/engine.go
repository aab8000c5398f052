package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/errlog"
)

// maxConditionDepth bounds structural recursion over condition trees.
const maxConditionDepth = 32

type Config struct {
	StopOnFirstDeny   bool
	LogAllEvaluations bool
	DefaultAction     domain.RuleAction
}

func DefaultConfig() Config {
	return Config{
		StopOnFirstDeny:   true,
		LogAllEvaluations: false,
		DefaultAction:     domain.ActionAllow,
	}
}

type Engine struct {
	mu     sync.RWMutex
	rules  []*domain.Rule
	config Config
	logger *slog.Logger
	errors *errlog.Logger
}

type RuleResult struct {
	RuleID    string              `json:"rule_id"`
	RuleName  string              `json:"rule_name"`
	Triggered bool                `json:"triggered"`
	Action    domain.RuleAction   `json:"action"`
	Severity  domain.RuleSeverity `json:"severity"`
	Message   string              `json:"message,omitempty"`
}

// Verdict is the aggregate outcome of evaluating all active rules against one
// transaction.
type Verdict struct {
	Allowed          bool         `json:"allowed"`
	Flagged          bool         `json:"flagged"`
	RequiresApproval bool         `json:"requires_approval"`
	DenyReason       string       `json:"deny_reason,omitempty"`
	Results          []RuleResult `json:"results"`
}

func NewEngine(config Config, errors *errlog.Logger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config: config,
		logger: logger,
		errors: errors,
	}
	e.ResetToDefaults()

	return e
}

// EvaluateTransaction runs the enabled rules in ascending priority order, ties
// keeping insertion order. A deny short-circuits when StopOnFirstDeny is set.
func (e *Engine) EvaluateTransaction(ctx context.Context, tx *domain.Transaction) *Verdict {
	e.mu.RLock()
	active := make([]*domain.Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	stopOnFirstDeny := e.config.StopOnFirstDeny
	logAll := e.config.LogAllEvaluations
	e.mu.RUnlock()

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	verdict := &Verdict{Allowed: true}

	for _, rule := range active {
		result := e.evaluateRule(rule, tx)
		verdict.Results = append(verdict.Results, result)

		if logAll {
			e.logger.InfoContext(ctx, "Rule evaluated",
				slog.String("rule_id", rule.ID),
				slog.String("rule_name", rule.Name),
				slog.String("transaction_id", tx.ID),
				slog.Bool("triggered", result.Triggered))
		}

		if !result.Triggered {
			continue
		}

		switch rule.Action {
		case domain.ActionDeny, domain.ActionAllow:
			// A triggered allow rule is one whose permit-list condition the
			// transaction failed, so both paths deny.
			verdict.Allowed = false
			if verdict.DenyReason == "" {
				verdict.DenyReason = e.denyReason(rule)
			}
			e.logViolation(ctx, rule, tx)
			if stopOnFirstDeny {
				return verdict
			}
		case domain.ActionFlag:
			verdict.Flagged = true
			e.logger.WarnContext(ctx, "Transaction flagged by rule",
				slog.String("rule_name", rule.Name),
				slog.String("transaction_id", tx.ID))
		case domain.ActionRequireApproval:
			verdict.RequiresApproval = true
			e.logger.InfoContext(ctx, "Transaction requires approval",
				slog.String("rule_name", rule.Name),
				slog.String("transaction_id", tx.ID))
		}
	}

	return verdict
}

// evaluateRule decides whether a rule triggers its consequence. For allow
// rules the condition describes what is permitted, so the rule triggers when
// the condition is false; for the other actions the condition describes the
// disqualifying pattern and the rule triggers when it is true.
func (e *Engine) evaluateRule(rule *domain.Rule, tx *domain.Transaction) RuleResult {
	matched := evaluateCondition(rule.Condition, tx, 0)

	triggered := matched
	if rule.Action == domain.ActionAllow {
		triggered = !matched
	}

	return RuleResult{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Triggered: triggered,
		Action:    rule.Action,
		Severity:  rule.Severity,
		Message:   rule.Message,
	}
}

func (e *Engine) denyReason(rule *domain.Rule) string {
	if rule.Message != "" {
		return fmt.Sprintf("%s: %s", rule.Name, rule.Message)
	}
	return rule.Name
}

func (e *Engine) logViolation(ctx context.Context, rule *domain.Rule, tx *domain.Transaction) {
	e.logger.WarnContext(ctx, "Transaction denied by rule",
		slog.String("rule_id", rule.ID),
		slog.String("rule_name", rule.Name),
		slog.String("transaction_id", tx.ID))

	if e.errors != nil {
		e.errors.Log(ctx, severityFor(rule.Severity), errlog.CategoryRules,
			domain.CodeRuleViolation, e.denyReason(rule), tx.ID,
			map[string]string{"rule_id": rule.ID, "rule_name": rule.Name})
	}
}

func severityFor(s domain.RuleSeverity) errlog.Severity {
	switch s {
	case domain.SeverityCritical:
		return errlog.SeverityCritical
	case domain.SeverityError:
		return errlog.SeverityHigh
	case domain.SeverityWarning:
		return errlog.SeverityMedium
	default:
		return errlog.SeverityLow
	}
}

// evaluateCondition fails closed: unknown fields, unknown operators and trees
// deeper than maxConditionDepth all evaluate false.
func evaluateCondition(cond *domain.RuleCondition, tx *domain.Transaction, depth int) bool {
	if cond == nil || depth > maxConditionDepth {
		return false
	}

	if cond.IsComposite() {
		switch cond.Operator {
		case domain.LogicAnd:
			for _, child := range cond.Children {
				if !evaluateCondition(child, tx, depth+1) {
					return false
				}
			}
			return len(cond.Children) > 0
		case domain.LogicOr:
			for _, child := range cond.Children {
				if evaluateCondition(child, tx, depth+1) {
					return true
				}
			}
			return false
		}
		return false
	}

	value, ok := fieldValue(tx, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case domain.OpEq:
		return valuesEqual(value, cond.Value)
	case domain.OpNeq:
		return !valuesEqual(value, cond.Value)
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		return compareNumeric(cond.Operator, value, cond.Value)
	case domain.OpIn:
		return valueIn(value, cond.Value)
	case domain.OpNotIn:
		return !valueIn(value, cond.Value)
	case domain.OpMatches:
		return matchesPattern(value, cond.Value)
	}
	return false
}

func fieldValue(tx *domain.Transaction, field string) (interface{}, bool) {
	switch field {
	case "amount":
		return tx.Amount, true
	case "currency":
		return tx.Currency, true
	case "type":
		return string(tx.Type), true
	case "status":
		return string(tx.Status), true
	case "priority":
		return string(tx.Priority), true
	case "source_account":
		return tx.SourceAccount, true
	case "destination_account":
		return tx.DestinationAccount, true
	case "description":
		return tx.Description, true
	case "retry_count":
		return float64(tx.RetryCount), true
	case "max_retries":
		return float64(tx.MaxRetries), true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumeric requires both operands to be numeric; anything else is false
// rather than an error.
func compareNumeric(op domain.ConditionOperator, a, b interface{}) bool {
	fa, ok := toFloat(a)
	if !ok {
		return false
	}
	fb, ok := toFloat(b)
	if !ok {
		return false
	}

	switch op {
	case domain.OpGt:
		return fa > fb
	case domain.OpGte:
		return fa >= fb
	case domain.OpLt:
		return fa < fb
	case domain.OpLte:
		return fa <= fb
	}
	return false
}

func valueIn(value, list interface{}) bool {
	switch items := list.(type) {
	case []interface{}:
		for _, item := range items {
			if valuesEqual(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if valuesEqual(value, item) {
				return true
			}
		}
	}
	return false
}

func matchesPattern(value, pattern interface{}) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}

	re, err := regexp.Compile(p)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (e *Engine) AddRule(rule *domain.Rule) *domain.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rule.ID == "" {
		rule.ID = domain.GenerateID()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	e.rules = append(e.rules, rule)

	return rule
}

func (e *Engine) UpdateRule(rule *domain.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.rules {
		if existing.ID == rule.ID {
			rule.CreatedAt = existing.CreatedAt
			rule.UpdatedAt = time.Now()
			e.rules[i] = rule
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", rule.ID)
}

func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, rule := range e.rules {
		if rule.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", id)
}

func (e *Engine) GetRule(id string) (*domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, fmt.Errorf("rule %s not found", id)
}

func (e *Engine) ListRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*domain.Rule, len(e.rules))
	copy(result, e.rules)
	return result
}

func (e *Engine) EnableRule(id string) error {
	return e.setEnabled(id, true)
}

func (e *Engine) DisableRule(id string) error {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if rule.ID == id {
			rule.Enabled = enabled
			rule.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", id)
}

// ResetToDefaults replaces the active set with the seeded default rules.
func (e *Engine) ResetToDefaults() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = defaultRules()
}
