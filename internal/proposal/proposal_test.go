package proposal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/invariant"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

func TestSubmitProposal_PersistsAndEmits(t *testing.T) {
	s := memory.New()
	bus := eventbus.New(nil)
	var submitted []string
	bus.Subscribe("ProposalSubmitted", func(ctx context.Context, ev eventbus.Event) error {
		submitted = append(submitted, ev.EventType())
		return nil
	})
	svc := NewAgentProposalService(s, bus, nil)

	p, err := svc.SubmitProposal(context.Background(), SubmitInput{
		AgentName:  "Coach",
		ActionType: "set_preference",
		TargetRef:  store.TargetRef{Type: "preference", ID: "comm", Key: "tone"},
	})
	require.NoError(t, err)
	assert.Equal(t, store.ProposalPending, p.Status)
	assert.Len(t, submitted, 1)

	loaded, err := s.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coach", loaded.AgentName)
}

func TestDetectConflicts_GroupsBySameTarget(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	target := store.TargetRef{Type: "preference", ID: "comm", Key: "tone"}
	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{AgentName: "Coach", TargetRef: target, ProposedValue: "direct"})
	require.NoError(t, err)
	_, err = proposalSvc.SubmitProposal(ctx, SubmitInput{AgentName: "Planner", TargetRef: target, ProposedValue: "direct"})
	require.NoError(t, err)

	bus := eventbus.New(nil)
	var detected []string
	bus.Subscribe("AgentConflictDetected", func(ctx context.Context, ev eventbus.Event) error {
		detected = append(detected, ev.EventType())
		return nil
	})
	conflictSvc := NewConflictDetectionService(s, s, bus, nil)

	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictSameTarget, conflicts[0].ConflictType)
	assert.Len(t, detected, 1)
}

func TestDetectConflicts_MutuallyExclusiveOnDivergentValues(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	target := store.TargetRef{Type: "preference", ID: "comm", Key: "tone"}
	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{AgentName: "Coach", TargetRef: target, ProposedValue: "direct"})
	require.NoError(t, err)
	_, err = proposalSvc.SubmitProposal(ctx, SubmitInput{AgentName: "Planner", TargetRef: target, ProposedValue: "neutral"})
	require.NoError(t, err)

	conflictSvc := NewConflictDetectionService(s, s, nil, nil)
	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictMutuallyExclusive, conflicts[0].ConflictType)
}

func TestDetectConflicts_IgnoresUnconflictedSingletons(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{
		AgentName: "Coach",
		TargetRef: store.TargetRef{Type: "preference", ID: "comm", Key: "tone"},
		ProposedValue: "direct",
	})
	require.NoError(t, err)

	conflictSvc := NewConflictDetectionService(s, s, nil, nil)
	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectConflicts_DeepCanonicalizationTreatsReorderedMapsAsEqual(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	target := store.TargetRef{Type: "preference", ID: "workflow", Key: "schedule"}
	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{
		AgentName: "Coach", TargetRef: target,
		ProposedValue: map[string]interface{}{"day": "mon", "hour": 9},
	})
	require.NoError(t, err)
	_, err = proposalSvc.SubmitProposal(ctx, SubmitInput{
		AgentName: "Planner", TargetRef: target,
		ProposedValue: map[string]interface{}{"hour": 9, "day": "mon"},
	})
	require.NoError(t, err)

	conflictSvc := NewConflictDetectionService(s, s, nil, nil)
	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictSameTarget, conflicts[0].ConflictType)
}

func TestDetectConflicts_InvariantViolationOnOutOfRangeConfidence(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{
		AgentName:       "Coach",
		TargetRef:       store.TargetRef{Type: "preference", ID: "comm", Key: "tone"},
		ProposedValue:   "direct",
		ConfidenceScore: 1.5,
	})
	require.NoError(t, err)

	engine, err := invariant.NewEngineWithDefaults(nil)
	require.NoError(t, err)

	conflictSvc := NewConflictDetectionService(s, s, nil, nil).WithInvariants(engine)
	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictInvariantViolation, conflicts[0].ConflictType)
	assert.NotEmpty(t, conflicts[0].Description)
}

func TestDetectConflicts_NoInvariantViolationForValidConfidence(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	proposalSvc := NewAgentProposalService(s, nil, nil)

	_, err := proposalSvc.SubmitProposal(ctx, SubmitInput{
		AgentName:       "Coach",
		TargetRef:       store.TargetRef{Type: "preference", ID: "comm", Key: "tone"},
		ProposedValue:   "direct",
		ConfidenceScore: 0.8,
	})
	require.NoError(t, err)

	engine, err := invariant.NewEngineWithDefaults(nil)
	require.NoError(t, err)

	conflictSvc := NewConflictDetectionService(s, s, nil, nil).WithInvariants(engine)
	conflicts, err := conflictSvc.DetectConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}
