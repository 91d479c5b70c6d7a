package suggestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Register(registry.Entry{
		Category: "comm", Key: "tone",
		AllowedSet: []interface{}{"neutral", "encouraging", "direct"},
		Default:    "encouraging", Adaptive: true,
	})
	return r
}

func seedFeedback(t *testing.T, s *memory.Store, agent string, preferred string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendFeedback(context.Background(), agent, store.FeedbackEntry{
			UserAccepted: true,
			Context:      map[string]interface{}{"category": "comm", "key": "tone", "preferredValue": preferred},
		}))
	}
}

func TestAnalyzeFeedbackAndSuggest_ProducesMajoritySuggestion(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	seedFeedback(t, s, "Coach", "direct", 4)
	seedFeedback(t, s, "Coach", "neutral", 1)

	svc := New(s, s, reg, nil, Thresholds{MinFeedbackForSuggestion: 3, MinSuggestionConfidence: 0.6}, nil)
	suggestions, err := svc.AnalyzeFeedbackAndSuggest(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "direct", suggestions[0].SuggestedValue)
	assert.Equal(t, 0.8, suggestions[0].Confidence)
}

func TestAnalyzeFeedbackAndSuggest_SkipsBelowThreshold(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	seedFeedback(t, s, "Coach", "direct", 1)
	seedFeedback(t, s, "Coach", "neutral", 1)

	svc := New(s, s, reg, nil, Thresholds{MinFeedbackForSuggestion: 3, MinSuggestionConfidence: 0.6}, nil)
	suggestions, err := svc.AnalyzeFeedbackAndSuggest(ctx, "Coach")
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestCreateManualSuggestion_RejectsOutOfDomainValue(t *testing.T) {
	s := memory.New()
	reg := testRegistry()
	svc := New(s, s, reg, nil, DefaultThresholds, nil)

	_, err := svc.CreateManualSuggestion(context.Background(), "Coach", "comm", "tone", "sarcastic", "operator request", 1.0)
	require.Error(t, err)
}

func TestApproveSuggestion_AppliesValueAndRecordsChange(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	bus := eventbus.New(nil)
	svc := New(s, s, reg, bus, DefaultThresholds, nil)

	sp, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "operator request", 0.9)
	require.NoError(t, err)

	require.NoError(t, svc.ApproveSuggestion(ctx, "Coach", sp.SuggestionID))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "direct", pref.Value)
	require.Len(t, profile.Changes, 1)
	assert.Equal(t, "suggestion_approved", profile.Changes[0].Source)

	updated, err := s.GetSuggestion(ctx, sp.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, store.SuggestionApproved, updated.Status)
}

func TestRejectSuggestion_MarksRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	svc := New(s, s, reg, nil, DefaultThresholds, nil)

	sp, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "operator request", 0.9)
	require.NoError(t, err)

	require.NoError(t, svc.RejectSuggestion(ctx, "Coach", sp.SuggestionID, "not needed"))

	updated, err := s.GetSuggestion(ctx, sp.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, store.SuggestionRejected, updated.Status)
	assert.Equal(t, "not needed", updated.RejectReason)
}

func TestApproveSuggestion_FailsWhenNotPending(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	svc := New(s, s, reg, nil, DefaultThresholds, nil)

	sp, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "operator request", 0.9)
	require.NoError(t, err)
	require.NoError(t, svc.ApproveSuggestion(ctx, "Coach", sp.SuggestionID))

	err = svc.ApproveSuggestion(ctx, "Coach", sp.SuggestionID)
	require.Error(t, err)
}

func TestAuditService_GetAuditSummary(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	svc := New(s, s, reg, nil, DefaultThresholds, nil)
	audit := NewAuditService(s, s, reg, nil)

	sp, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "operator request", 0.9)
	require.NoError(t, err)
	require.NoError(t, svc.ApproveSuggestion(ctx, "Coach", sp.SuggestionID))

	summary, err := audit.GetAuditSummary(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalSuggestions)
	assert.Equal(t, 1, summary.ApprovedSuggestions)
	assert.Equal(t, 1, summary.TotalChanges)
}

func TestAuditService_ResetPreferenceToDefault(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	audit := NewAuditService(s, s, reg, nil)

	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "direct"}))
	require.NoError(t, audit.ResetPreferenceToDefault(ctx, "Coach", "comm", "tone"))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "encouraging", pref.Value)
}
