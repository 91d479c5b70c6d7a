package invariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/store"
)

func TestEngine_RegisterRejectsNonBoolCondition(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	err = e.Register(Rule{Name: "bad", Condition: "cost_estimate"})
	assert.Error(t, err)
}

func TestEngine_RegisterRejectsInvalidExpression(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	err = e.Register(Rule{Name: "bad", Condition: "this is not cel("})
	assert.Error(t, err)
}

func TestEngine_CheckFindsViolation(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	require.NoError(t, e.Register(Rule{
		Name:        "no_high_risk_from_logger",
		Description: "Logger must never submit a high-risk proposal",
		Condition:   `agent_name == "Logger" && risk_level == "high"`,
	}))

	violations, err := e.Check(store.AgentActionProposal{AgentName: "Logger", RiskLevel: store.RiskHigh})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "no_high_risk_from_logger", violations[0].RuleName)
}

func TestEngine_CheckNoViolation(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	require.NoError(t, e.Register(Rule{
		Name:      "no_high_risk_from_logger",
		Condition: `agent_name == "Logger" && risk_level == "high"`,
	}))

	violations, err := e.Check(store.AgentActionProposal{AgentName: "Coach", RiskLevel: store.RiskHigh})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestNewEngineWithDefaults_CatchesOutOfRangeConfidenceAndNegativeCost(t *testing.T) {
	e, err := NewEngineWithDefaults(nil)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRules()), e.Count())

	violations, err := e.Check(store.AgentActionProposal{ConfidenceScore: 1.2, CostEstimate: -5})
	require.NoError(t, err)
	require.Len(t, violations, 2)
}

func TestCategoryKeySplit_ViaTargetRef(t *testing.T) {
	violations, err := mustEngine(t).Check(store.AgentActionProposal{
		TargetRef:       store.TargetRef{Type: "preference", ID: "a", Key: "comm.tone"},
		ConfidenceScore: 0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, violations)

	e := mustEngine(t)
	require.NoError(t, e.Register(Rule{
		Name:        "tone_target",
		Description: "targets comm.tone",
		Condition:   `category == "comm" && key == "tone"`,
	}))
	violations, err = e.Check(store.AgentActionProposal{
		TargetRef:       store.TargetRef{Type: "preference", ID: "a", Key: "comm.tone"},
		ConfidenceScore: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "tone_target", violations[0].RuleName)
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngineWithDefaults(nil)
	require.NoError(t, err)
	return e
}
