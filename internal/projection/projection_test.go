package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

func TestPreferences_FiltersByAgentAndSortsDeterministically(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.UpsertPreference(ctx, "Planner", store.UserPreference{Category: "sched", Key: "buffer", Value: 15}))
	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "direct"}))
	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "frequency", Value: "daily"}))

	svc := NewService(s)

	all, page, err := svc.Preferences(ctx, "", 1, 25)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "Coach", all[0].AgentName)
	assert.Equal(t, "frequency", all[0].Key)
	assert.Equal(t, "Coach", all[1].AgentName)
	assert.Equal(t, "tone", all[1].Key)
	assert.Equal(t, "Planner", all[2].AgentName)

	coachOnly, _, err := svc.Preferences(ctx, "Coach", 1, 25)
	require.NoError(t, err)
	assert.Len(t, coachOnly, 2)
}

func TestPreferences_Paginates(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{
			Category: "comm", Key: string(rune('a' + i)), Value: i,
		}))
	}
	svc := NewService(s)

	rows, page, err := svc.Preferences(ctx, "Coach", 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)

	rows2, _, err := svc.Preferences(ctx, "Coach", 3, 2)
	require.NoError(t, err)
	assert.Len(t, rows2, 1)
}

func TestSuggestions_FiltersByStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "s1", AgentName: "Coach", Category: "comm", Key: "tone",
		Status: store.SuggestionPending, SuggestedAt: time.Now(),
	}))
	require.NoError(t, s.CreateSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "s2", AgentName: "Coach", Category: "comm", Key: "tone",
		Status: store.SuggestionApproved, SuggestedAt: time.Now(),
	}))

	svc := NewService(s)
	rows, page, err := svc.Suggestions(ctx, "", store.SuggestionPending, 1, 25)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "s1", rows[0].SuggestionID)
}

func TestArbitrations_EscalatedOnlyFilter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateArbitrationDecision(ctx, store.ArbitrationDecision{
		ID: "d1", Outcome: store.OutcomeWinnerSelected, CreatedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.CreateArbitrationDecision(ctx, store.ArbitrationDecision{
		ID: "d2", Outcome: store.OutcomeEscalated, CreatedAt: time.Now(),
	}))

	svc := NewService(s)
	all, _, err := svc.Arbitrations(ctx, false, 1, 25)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].DecisionID) // newest first

	escalatedOnly, _, err := svc.Arbitrations(ctx, true, 1, 25)
	require.NoError(t, err)
	require.Len(t, escalatedOnly, 1)
	assert.Equal(t, "d2", escalatedOnly[0].DecisionID)
}

func TestPendingEscalations_ExcludesExecuted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateArbitrationDecision(ctx, store.ArbitrationDecision{
		ID: "d1", Outcome: store.OutcomeEscalated, Executed: false, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.CreateArbitrationDecision(ctx, store.ArbitrationDecision{
		ID: "d2", Outcome: store.OutcomeEscalated, Executed: true, CreatedAt: time.Now(),
	}))

	svc := NewService(s)
	rows, _, err := svc.PendingEscalations(ctx, 1, 25)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d1", rows[0].DecisionID)
}

func TestAudit_DefaultWindowAndTypeFilter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateDecision(ctx, store.DecisionRecord{
		ID: "dec1", AgentName: "Coach", DecisionType: "suggest_tone",
		ReasoningSource: store.ReasoningRule, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateDecision(ctx, store.DecisionRecord{
		ID: "dec2", AgentName: "Coach", DecisionType: "suggest_tone",
		ReasoningSource: store.ReasoningRule, CreatedAt: now.Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, s.AppendChange(ctx, "Coach", store.PreferenceChange{
		AgentName: "Coach", Category: "comm", Key: "tone",
		Source: "manual", ChangedAt: now.Add(-2 * time.Hour),
	}))

	svc := NewService(s)
	entries, page, err := svc.Audit(ctx, AuditFilter{}, now, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total) // dec2 falls outside the default 30-day window
	for _, e := range entries {
		if d, ok := e.Detail.(store.DecisionRecord); ok {
			assert.NotEqual(t, "dec2", d.ID)
		}
	}

	decisionsOnly, _, err := svc.Audit(ctx, AuditFilter{Type: "decision"}, now, 1, 25)
	require.NoError(t, err)
	assert.Len(t, decisionsOnly, 1)
	assert.Equal(t, "decision", decisionsOnly[0].Type)
}

func TestAudit_RejectsInvertedWindow(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	now := time.Now()

	_, _, err := svc.Audit(context.Background(), AuditFilter{Since: now, Until: now.Add(-time.Hour)}, now, 1, 25)
	assert.Error(t, err)
}

func TestAudit_RejectsWindowBeyondCap(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	now := time.Now()

	_, _, err := svc.Audit(context.Background(), AuditFilter{Since: now.Add(-100 * 24 * time.Hour)}, now, 1, 25)
	assert.Error(t, err)
}
