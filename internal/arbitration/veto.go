package arbitration

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/prefctl/prefctl/internal/store"
)

// vetoEnv declares the variables available to a compiled veto condition:
// the proposal under test, projected onto primitive CEL types, plus
// whether its target preference is currently locked (an out-of-band fact
// the caller supplies, since locking lives in the Adaptation Policy
// aggregate, not the proposal itself).
func newVetoEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("cost_estimate", cel.DoubleType),
		cel.Variable("agent_name", cel.StringType),
		cel.Variable("target_locked", cel.BoolType),
	)
}

// CompiledVetoRule pairs a VetoRule with the CEL program compiled from its
// conditionType/conditionValue, so repeated evaluation against many
// proposals in a conflict compiles the expression only once. Grounded on
// the teacher's internal/policy/cel.go CompiledRule (pre-compile once,
// evaluate many), generalized here from free-form expression strings to
// expressions synthesized from our four structured condition types.
type CompiledVetoRule struct {
	Rule       store.VetoRule
	expression string
	program    cel.Program
}

// exprForCondition translates a VetoRule's conditionType/conditionValue
// into the CEL expression text that implements it, per spec §4.G:
//   - riskLevel: proposal risk equals the condition value
//   - cost: proposal cost estimate >= the numeric threshold
//   - agentBlacklist: the proposing agent is in the listed set
//   - preferenceLock: the proposal's target preference is locked
func exprForCondition(rule store.VetoRule) (string, error) {
	switch rule.ConditionType {
	case store.VetoRiskLevel:
		level, ok := rule.ConditionValue.(string)
		if !ok {
			return "", fmt.Errorf("veto rule %s: riskLevel condition value must be a string", rule.ID)
		}
		return fmt.Sprintf("risk_level == %q", level), nil

	case store.VetoCost:
		threshold, ok := toFloat(rule.ConditionValue)
		if !ok {
			return "", fmt.Errorf("veto rule %s: cost condition value must be numeric", rule.ID)
		}
		return fmt.Sprintf("cost_estimate >= %s", formatFloat(threshold)), nil

	case store.VetoAgentBlacklist:
		names, ok := toStringSlice(rule.ConditionValue)
		if !ok {
			return "", fmt.Errorf("veto rule %s: agentBlacklist condition value must be a string list", rule.ID)
		}
		return fmt.Sprintf("agent_name in %s", quotedList(names)), nil

	case store.VetoPreferenceLock:
		return "target_locked", nil

	default:
		return "", fmt.Errorf("veto rule %s: unknown condition type %q", rule.ID, rule.ConditionType)
	}
}

// CompileVetoRule compiles rule into a CompiledVetoRule ready for repeated
// Evaluate calls.
func CompileVetoRule(env *cel.Env, rule store.VetoRule) (CompiledVetoRule, error) {
	expr, err := exprForCondition(rule)
	if err != nil {
		return CompiledVetoRule{}, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledVetoRule{}, fmt.Errorf("veto rule %s: CEL compile error in %q: %w", rule.ID, expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledVetoRule{}, fmt.Errorf("veto rule %s: expression %q must evaluate to bool", rule.ID, expr)
	}
	program, err := env.Program(ast)
	if err != nil {
		return CompiledVetoRule{}, fmt.Errorf("veto rule %s: build program: %w", rule.ID, err)
	}

	return CompiledVetoRule{Rule: rule, expression: expr, program: program}, nil
}

// Evaluate reports whether p matches this veto rule's condition.
func (c CompiledVetoRule) Evaluate(p store.AgentActionProposal, targetLocked bool) (bool, error) {
	out, _, err := c.program.Eval(map[string]interface{}{
		"risk_level":    string(p.RiskLevel),
		"cost_estimate": p.CostEstimate,
		"agent_name":    p.AgentName,
		"target_locked": targetLocked,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate veto rule %s: %w", c.Rule.ID, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("veto rule %s: evaluation did not produce a bool", c.Rule.ID)
	}
	return matched, nil
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

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
