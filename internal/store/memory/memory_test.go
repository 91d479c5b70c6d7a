package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/store"
)

func TestUpsertPreference_InsertsThenReplaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "neutral"})
	require.NoError(t, err)
	err = s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "direct"})
	require.NoError(t, err)

	p, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, p.Preferences, 1)
	assert.Equal(t, "direct", p.Preferences[0].Value)
}

func TestAppendFeedback_UpdatesAcceptanceRate(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.AppendFeedback(ctx, "Coach", store.FeedbackEntry{UserAccepted: true})
	_ = s.AppendFeedback(ctx, "Coach", store.FeedbackEntry{UserAccepted: false})

	p, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, 2, p.TotalFeedbackReceived)
	assert.InDelta(t, 0.5, p.OverallAcceptanceRate, 0.0001)
}

func TestGetSuggestion_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetSuggestion(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPendingByTarget_FiltersByTargetAndStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	target := store.TargetRef{Type: "preference", ID: "p1", Key: "comm.tone"}

	require.NoError(t, s.CreateProposal(ctx, store.AgentActionProposal{
		ID: "prop-1", AgentName: "Coach", TargetRef: target, Status: store.ProposalPending, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.CreateProposal(ctx, store.AgentActionProposal{
		ID: "prop-2", AgentName: "Planner", TargetRef: target, Status: store.ProposalApproved, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.CreateProposal(ctx, store.AgentActionProposal{
		ID: "prop-3", AgentName: "Logger", TargetRef: store.TargetRef{Type: "preference", ID: "p2"},
		Status: store.ProposalPending, CreatedAt: time.Now(),
	}))

	pending, err := s.ListPendingByTarget(ctx, target.GroupKey())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "prop-1", pending[0].ID)
}

func TestIdempotency_BeginClaimsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, won, err := s.Begin(ctx, "user-1:key-1")
	require.NoError(t, err)
	assert.True(t, won)

	existing, won2, err := s.Begin(ctx, "user-1:key-1")
	require.NoError(t, err)
	assert.False(t, won2)
	assert.True(t, existing.InProgress)

	require.NoError(t, s.Complete(ctx, store.IdempotencyRecord{Key: "user-1:key-1", StatusCode: 200}))
	rec, err := s.Get(ctx, "user-1:key-1")
	require.NoError(t, err)
	assert.False(t, rec.InProgress)
	assert.Equal(t, 200, rec.StatusCode)
}

func TestResolvePolicy_PrefersMostSpecificScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutArbitrationPolicy(ctx, store.ArbitrationPolicy{
		ID: "global", Scope: store.ScopeGlobal, IsDefault: true, ResolutionStrategy: store.StrategyPriority,
	}))
	require.NoError(t, s.PutArbitrationPolicy(ctx, store.ArbitrationPolicy{
		ID: "agent-coach", Scope: store.ScopeAgent, ScopeAgentName: "Coach", ResolutionStrategy: store.StrategyWeighted,
	}))
	require.NoError(t, s.PutArbitrationPolicy(ctx, store.ArbitrationPolicy{
		ID: "pref-tone", Scope: store.ScopePreference, ScopePreferenceKey: "comm.tone", ResolutionStrategy: store.StrategyVeto,
	}))

	p, err := s.ResolvePolicy(ctx, []string{"Coach"}, "comm.tone")
	require.NoError(t, err)
	assert.Equal(t, "pref-tone", p.ID)

	p, err = s.ResolvePolicy(ctx, []string{"Coach"}, "")
	require.NoError(t, err)
	assert.Equal(t, "agent-coach", p.ID)

	p, err = s.ResolvePolicy(ctx, []string{"Planner"}, "")
	require.NoError(t, err)
	assert.Equal(t, "global", p.ID)
}
