package explanation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

func TestExplainArbitration_WinnerAndAlternatives(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	decision := store.ArbitrationDecision{
		ID: "dec-1", ConflictID: "conf-1", PolicyID: "pol-1",
		StrategyUsed: store.StrategyPriority, Outcome: store.OutcomeWinnerSelected,
		WinningProposalID: "p1",
		DecisionFactors: []store.DecisionFactor{
			{ProposalID: "p1", AgentName: "Coach", Factor: "priority", Value: "winner", Impact: store.ImpactPositive},
			{ProposalID: "p2", AgentName: "Planner", Factor: "suppressed", Value: "lost priority order", Impact: store.ImpactNegative},
			{ProposalID: "p3", AgentName: "Logger", Factor: "vetoed", Value: "no-high-risk", Impact: store.ImpactNegative},
		},
		ReasoningSummary: "priority strategy selected proposal p1 from agent Coach",
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.CreateArbitrationDecision(ctx, decision))

	svc := NewService(s, s, s, s)
	exp, err := svc.ExplainArbitration(ctx, "dec-1")
	require.NoError(t, err)

	assert.Equal(t, "arbitration", exp.DecisionType)
	assert.Contains(t, exp.Summary, "p1")
	assert.Len(t, exp.AlternativesConsidered, 2)
	assert.Equal(t, "Vetoed by policy rule", exp.WhyOthersLost["p3"])
	assert.Equal(t, "lost priority order", exp.WhyOthersLost["p2"])
}

func TestExplainArbitration_AllVetoed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	decision := store.ArbitrationDecision{
		ID: "dec-2", ConflictID: "conf-2", PolicyID: "pol-1",
		Outcome:          store.OutcomeAllVetoed,
		ReasoningSummary: "every proposal in this conflict was vetoed",
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.CreateArbitrationDecision(ctx, decision))

	svc := NewService(s, s, s, s)
	exp, err := svc.ExplainArbitration(ctx, "dec-2")
	require.NoError(t, err)
	assert.Contains(t, exp.Summary, "vetoed")
}

func TestExplainAdaptation_BlockedSummary(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	attempt := store.AutoAdaptationAttempt{
		ID: "att-1", AgentName: "Coach", Category: "comm", Key: "tone",
		Confidence: 0.4, RiskLevel: store.RiskLow,
		Result: store.AttemptBlocked, BlockReason: "confidence below threshold",
		PolicyID: "pol-1",
		PolicySnapshot: store.PolicySnapshot{
			MinConfidence: 0.7, UserOptedIn: true, AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
		},
		Timestamp: time.Now(),
	}
	require.NoError(t, s.CreateAttempt(ctx, attempt))

	svc := NewService(s, s, s, s)
	exp, err := svc.ExplainAdaptation(ctx, "att-1")
	require.NoError(t, err)

	assert.Equal(t, "adaptation", exp.DecisionType)
	assert.Contains(t, exp.Summary, "blocked")
	assert.Contains(t, exp.Summary, "confidence below threshold")

	var confidenceFactor store.DecisionFactor
	for _, f := range exp.ContributingFactors {
		if f.Factor == "confidence" {
			confidenceFactor = f
		}
	}
	assert.Equal(t, store.ImpactNegative, confidenceFactor.Impact)
}

func TestExplainAdaptation_RolledBackNotedInSummary(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	attempt := store.AutoAdaptationAttempt{
		ID: "att-2", AgentName: "Coach", Category: "comm", Key: "tone",
		Confidence: 0.9, RiskLevel: store.RiskLow, Result: store.AttemptApplied,
		PolicyID: "pol-1",
		PolicySnapshot: store.PolicySnapshot{
			MinConfidence: 0.7, UserOptedIn: true, AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
		},
		RolledBack:     true,
		RollbackReason: "user requested rollback",
		Timestamp:      time.Now(),
	}
	require.NoError(t, s.CreateAttempt(ctx, attempt))

	svc := NewService(s, s, s, s)
	exp, err := svc.ExplainAdaptation(ctx, "att-2")
	require.NoError(t, err)
	assert.Contains(t, exp.Summary, "rolled back")
	assert.Contains(t, exp.Summary, "user requested rollback")
}
