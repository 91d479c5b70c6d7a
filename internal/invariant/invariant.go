// Package invariant implements hard safety invariants that hold
// regardless of policy configuration: rules a proposal can never satisfy
// no matter what an agent's arbitration or veto policy says. Unlike
// arbitration's per-policy VetoRules, which are configurable per agent
// policy, invariants are process-wide and, when violated, classify a
// Conflict as invariant_violation; they are surfaced rather than
// recovered from.
//
// A registry of rules enforced via compiled CEL conditions, evaluated
// against every pending proposal at conflict-detection time.
package invariant

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/prefctl/prefctl/internal/store"
)

// Rule is a single hard invariant. Condition is a CEL expression over
// the variables declared in newEnv; it must evaluate to true for the
// rule to be considered VIOLATED (the opposite polarity of arbitration's
// veto rules, whose condition being true means "skip this proposal").
type Rule struct {
	Name        string
	Description string
	Condition   string
}

// compiledRule pairs a Rule with its compiled CEL program so repeated
// checks against many proposals only compile the expression once.
type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Violation reports a Rule that failed for a given proposal.
type Violation struct {
	RuleName    string
	Description string
}

// Engine holds the compiled set of process-wide invariants.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  []compiledRule
	logger *slog.Logger
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("confidence_score", cel.DoubleType),
		cel.Variable("cost_estimate", cel.DoubleType),
		cel.Variable("agent_name", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("key", cel.StringType),
	)
}

// NewEngine builds an Engine with no rules registered. Register adds the
// invariants callers want enforced.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("build invariant CEL environment: %w", err)
	}
	return &Engine{env: env, logger: logger.With("component", "invariant.Engine")}, nil
}

// Register compiles rule and adds it to the engine. Returns an error if
// the condition does not compile to a bool-typed CEL program.
func (e *Engine) Register(rule Rule) error {
	ast, issues := e.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("invariant %s: CEL compile error in %q: %w", rule.Name, rule.Condition, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("invariant %s: condition %q must evaluate to bool", rule.Name, rule.Condition)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("invariant %s: build CEL program: %w", rule.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, compiledRule{rule: rule, program: program})
	e.logger.Info("invariant registered", "name", rule.Name)
	return nil
}

// Count returns the number of registered rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Check evaluates every registered rule against p and returns every
// violation found, in registration order. A nil/empty result means p
// violates no invariant.
func (e *Engine) Check(p store.AgentActionProposal) ([]Violation, error) {
	e.mu.RLock()
	rules := make([]compiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	vars := map[string]interface{}{
		"action_type":      p.ActionType,
		"risk_level":       string(p.RiskLevel),
		"confidence_score": p.ConfidenceScore,
		"cost_estimate":    p.CostEstimate,
		"agent_name":       p.AgentName,
		"category":         categoryOf(p.TargetRef.Key),
		"key":              keyOf(p.TargetRef.Key),
	}

	var violations []Violation
	for _, cr := range rules {
		out, _, err := cr.program.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("invariant %s: evaluate: %w", cr.rule.Name, err)
		}
		violated, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("invariant %s: non-bool result", cr.rule.Name)
		}
		if violated {
			violations = append(violations, Violation{RuleName: cr.rule.Name, Description: cr.rule.Description})
		}
	}
	return violations, nil
}

// categoryOf and keyOf split a TargetRef.Key of the form
// "category.key" used by preference targets; non-preference targets
// (TargetRef.Key == "") yield empty strings for both.
func categoryOf(targetKey string) string {
	for i, r := range targetKey {
		if r == '.' {
			return targetKey[:i]
		}
	}
	return ""
}

func keyOf(targetKey string) string {
	for i, r := range targetKey {
		if r == '.' {
			return targetKey[i+1:]
		}
	}
	return ""
}
