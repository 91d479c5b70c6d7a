package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

func seedEscalatedDecision(t *testing.T, s *memory.Store) (store.ArbitrationDecision, []store.AgentActionProposal) {
	t.Helper()
	ctx := context.Background()

	target := store.TargetRef{Type: "preference", ID: "comm", Key: "tone"}
	proposals := []store.AgentActionProposal{
		{ID: "p1", AgentName: "Coach", TargetRef: target, ProposedValue: "direct", ConfidenceScore: 0.9, Status: store.ProposalEscalated},
		{ID: "p2", AgentName: "Coach", TargetRef: target, ProposedValue: "neutral", ConfidenceScore: 0.5, Status: store.ProposalEscalated},
	}
	decision := store.ArbitrationDecision{
		ID: "dec-1", ConflictID: "conf-1", Outcome: store.OutcomeEscalated,
		RequiresHumanApproval: true, CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateArbitrationDecision(ctx, decision))
	for i := range proposals {
		proposals[i].DecisionID = decision.ID
		require.NoError(t, s.CreateProposal(ctx, proposals[i]))
	}
	return decision, proposals
}

func TestApproveEscalatedDecision_SelectsWinnerAndAppliesPreference(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	decision, _ := seedEscalatedDecision(t, s)

	bus := eventbus.New(nil)
	var approved int
	bus.Subscribe("EscalationApproved", func(ctx context.Context, ev eventbus.Event) error {
		approved++
		return nil
	})

	svc := NewEscalationApprovalService(s, s, s, s, bus, nil)
	err := svc.ApproveEscalatedDecision(ctx, decision.ID, "admin@example.com", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, approved)

	winner, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalApproved, winner.Status)

	loser, err := s.GetProposal(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalSuppressed, loser.Status)

	updated, err := s.GetArbitrationDecision(ctx, decision.ID)
	require.NoError(t, err)
	assert.True(t, updated.Executed)
	assert.False(t, updated.RequiresHumanApproval)
	assert.Equal(t, "p1", updated.SelectedProposalID)

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "direct", pref.Value)
}

func TestApproveEscalatedDecision_RejectsAlreadyExecuted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	decision, _ := seedEscalatedDecision(t, s)

	svc := NewEscalationApprovalService(s, s, s, s, nil, nil)
	require.NoError(t, svc.ApproveEscalatedDecision(ctx, decision.ID, "admin@example.com", "p1"))

	err := svc.ApproveEscalatedDecision(ctx, decision.ID, "admin2@example.com", "p2")
	assert.Error(t, err)
}

func TestRejectEscalatedDecision_SuppressesAllProposals(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	decision, _ := seedEscalatedDecision(t, s)

	bus := eventbus.New(nil)
	var rejected int
	bus.Subscribe("EscalationRejected", func(ctx context.Context, ev eventbus.Event) error {
		rejected++
		return nil
	})

	svc := NewEscalationApprovalService(s, s, s, s, bus, nil)
	require.NoError(t, svc.RejectEscalatedDecision(ctx, decision.ID, "admin@example.com"))
	assert.Equal(t, 1, rejected)

	p1, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalSuppressed, p1.Status)
	p2, err := s.GetProposal(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalSuppressed, p2.Status)
}

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(registry.Entry{
		Category: "comm", Key: "tone", Default: "neutral",
		RiskLevel: registry.RiskLow, Adaptive: true, MinConfidenceToAdapt: 0.6,
	})
	return reg
}

func TestRollbackByPreference_RestoresMostRecentAppliedAttempt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()

	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "neutral", Source: "manual"}))

	policySvc := adaptation.NewPolicyService(s, reg, nil)
	require.NoError(t, policySvc.EnableAutoAdaptation(ctx, "Coach", adaptation.EnableOptions{
		MinConfidence: 0.5, AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
	}))

	attemptSvc := adaptation.NewAttemptService(policySvc, s, s, reg, nil, nil)
	result, err := attemptSvc.ProcessSuggestion(ctx, store.SuggestedPreference{
		AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, adaptation.OutcomeApplied, result.Outcome)

	rollback := NewRollbackService(attemptSvc, s, s, s, s, nil)
	require.NoError(t, rollback.RollbackByPreference(ctx, "Coach", "comm", "tone", "operator requested revert"))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "neutral", pref.Value)
}

func TestRollbackByPreference_NoOpWhenNeverApplied(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	policySvc := adaptation.NewPolicyService(s, reg, nil)
	attemptSvc := adaptation.NewAttemptService(policySvc, s, s, reg, nil, nil)
	rollback := NewRollbackService(attemptSvc, s, s, s, s, nil)

	err := rollback.RollbackByPreference(ctx, "Coach", "comm", "tone", "nothing to revert")
	assert.NoError(t, err)
}

func TestRollbackByDecision_RestoresArbitrationAppliedPreference(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	target := store.TargetRef{Type: "preference", ID: "comm", Key: "tone"}
	require.NoError(t, s.CreateProposal(ctx, store.AgentActionProposal{
		ID: "p1", AgentName: "Coach", TargetRef: target, ProposedValue: "direct",
		ConfidenceScore: 0.9, Status: store.ProposalApproved,
	}))
	decision := store.ArbitrationDecision{
		ID: "dec-2", ConflictID: "conf-2", Outcome: store.OutcomeWinnerSelected, WinningProposalID: "p1",
	}
	require.NoError(t, s.CreateArbitrationDecision(ctx, decision))

	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "direct", Source: "arbitration"}))
	require.NoError(t, s.AppendChange(ctx, "Coach", store.PreferenceChange{
		AgentName: "Coach", Category: "comm", Key: "tone",
		OldValue: "neutral", NewValue: "direct", Source: "arbitration", DecisionID: "dec-2",
	}))

	reg := testRegistry()
	policySvc := adaptation.NewPolicyService(s, reg, nil)
	attemptSvc := adaptation.NewAttemptService(policySvc, s, s, reg, nil, nil)
	rollback := NewRollbackService(attemptSvc, s, s, s, s, nil)

	require.NoError(t, rollback.RollbackByDecision(ctx, "dec-2", "undo escalation"))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "neutral", pref.Value)
}

func TestRollbackByDecision_NoOpWhenWinnerNotPreference(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	target := store.TargetRef{Type: "tool_invocation", ID: "send_email"}
	require.NoError(t, s.CreateProposal(ctx, store.AgentActionProposal{
		ID: "p1", AgentName: "Coach", TargetRef: target, Status: store.ProposalApproved,
	}))
	decision := store.ArbitrationDecision{ID: "dec-3", Outcome: store.OutcomeWinnerSelected, WinningProposalID: "p1"}
	require.NoError(t, s.CreateArbitrationDecision(ctx, decision))

	reg := testRegistry()
	policySvc := adaptation.NewPolicyService(s, reg, nil)
	attemptSvc := adaptation.NewAttemptService(policySvc, s, s, reg, nil, nil)
	rollback := NewRollbackService(attemptSvc, s, s, s, s, nil)

	err := rollback.RollbackByDecision(ctx, "dec-3", "no-op expected")
	assert.NoError(t, err)
}
