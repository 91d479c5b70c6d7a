package adaptation

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
		Default:    "encouraging", Adaptive: true, RiskLevel: registry.RiskLow,
	})
	r.Register(registry.Entry{
		Category: "comm", Key: "static",
		AllowedSet: []interface{}{"a", "b"},
		Default:    "a", Adaptive: false,
	})
	return r
}

func optedIn(t *testing.T, ps *PolicyService, agent string) {
	t.Helper()
	require.NoError(t, ps.EnableAutoAdaptation(context.Background(), agent, EnableOptions{
		MinConfidence:     0.6,
		AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
	}))
}

func TestEvaluateAutoAdaptation_PreferenceNotAdaptive(t *testing.T) {
	s := memory.New()
	ps := NewPolicyService(s, testRegistry(), nil)

	result, err := ps.EvaluateAutoAdaptation(context.Background(), "Coach", "comm", "static", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonPreferenceNotAdaptive, result.BlockReason)
}

func TestEvaluateAutoAdaptation_UserNotOptedIn(t *testing.T) {
	s := memory.New()
	ps := NewPolicyService(s, testRegistry(), nil)

	result, err := ps.EvaluateAutoAdaptation(context.Background(), "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonUserNotOptedIn, result.BlockReason)
}

func TestEvaluateAutoAdaptation_ManualMode(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	optedIn(t, ps, "Coach")
	require.NoError(t, ps.DisableAutoAdaptation(ctx, "Coach"))

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonModeIsManual, result.BlockReason)
}

func TestEvaluateAutoAdaptation_PreferenceLocked(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	optedIn(t, ps, "Coach")
	require.NoError(t, ps.LockPreference(ctx, "Coach", "comm", "tone"))

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonPreferenceLocked, result.BlockReason)

	require.NoError(t, ps.UnlockPreference(ctx, "Coach", "comm", "tone"))
	result, err = ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestEvaluateAutoAdaptation_RiskLevelNotAllowed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	optedIn(t, ps, "Coach")

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskHigh)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonRiskLevelNotAllowed, result.BlockReason)
}

func TestEvaluateAutoAdaptation_CooldownNotElapsed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	require.NoError(t, ps.EnableAutoAdaptation(ctx, "Coach", EnableOptions{
		MinConfidence:     0.6,
		AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
		CooldownMs:        60_000,
	}))
	require.NoError(t, ps.RecordAppliedTick(ctx, "Coach"))

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonCooldownNotElapsed, result.BlockReason)
}

func TestEvaluateAutoAdaptation_RateLimitExceeded(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	require.NoError(t, ps.EnableAutoAdaptation(ctx, "Coach", EnableOptions{
		MinConfidence:     0.6,
		AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
		RateLimit:         store.RateLimit{MaxChanges: 1, WindowMs: 3_600_000},
	}))
	require.NoError(t, ps.RecordAppliedTick(ctx, "Coach"))

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonRateLimitExceeded, result.BlockReason)
}

func TestEvaluateAutoAdaptation_ConfidenceTooLow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	optedIn(t, ps, "Coach")

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.3, store.RiskLow)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonConfidenceTooLow, result.BlockReason)
}

func TestEvaluateAutoAdaptation_Allowed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ps := NewPolicyService(s, testRegistry(), nil)
	optedIn(t, ps, "Coach")

	result, err := ps.EvaluateAutoAdaptation(ctx, "Coach", "comm", "tone", 0.9, store.RiskLow)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestProcessSuggestion_AppliesAndRecordsAttempt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	ps := NewPolicyService(s, reg, nil)
	optedIn(t, ps, "Coach")
	bus := eventbus.New(nil)
	var applied []string
	bus.Subscribe("PreferenceAutoApplied", func(ctx context.Context, ev eventbus.Event) error {
		applied = append(applied, ev.EventType())
		return nil
	})
	as := NewAttemptService(ps, s, s, reg, bus, nil)

	result, err := as.ProcessSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "sug-1", AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.Len(t, applied, 1)

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "direct", pref.Value)

	attempt, err := s.GetAttempt(ctx, result.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, store.AttemptApplied, attempt.Result)
}

func TestProcessSuggestion_BlocksWhenNotOptedIn(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	ps := NewPolicyService(s, reg, nil)
	as := NewAttemptService(ps, s, s, reg, nil, nil)

	result, err := as.ProcessSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "sug-1", AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, result.Outcome)
	assert.Equal(t, ReasonUserNotOptedIn, result.Reason)
}

func TestProcessSuggestion_SkipsWhenAlreadyAtValue(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	ps := NewPolicyService(s, reg, nil)
	optedIn(t, ps, "Coach")
	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "direct"}))
	as := NewAttemptService(ps, s, s, reg, nil, nil)

	result, err := as.ProcessSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "sug-1", AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
}

func TestRollback_RestoresPreviousValue(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	ps := NewPolicyService(s, reg, nil)
	optedIn(t, ps, "Coach")
	require.NoError(t, s.UpsertPreference(ctx, "Coach", store.UserPreference{Category: "comm", Key: "tone", Value: "neutral"}))
	as := NewAttemptService(ps, s, s, reg, nil, nil)

	result, err := as.ProcessSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "sug-1", AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, result.Outcome)

	require.NoError(t, as.Rollback(ctx, result.AttemptID, "operator requested revert"))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "neutral", pref.Value)

	attempt, err := s.GetAttempt(ctx, result.AttemptID)
	require.NoError(t, err)
	assert.True(t, attempt.RolledBack)

	require.NoError(t, as.Rollback(ctx, result.AttemptID, "retry"))
}

func TestRollback_FallsBackToRegistryDefault(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	reg := testRegistry()
	ps := NewPolicyService(s, reg, nil)
	optedIn(t, ps, "Coach")
	as := NewAttemptService(ps, s, s, reg, nil, nil)

	result, err := as.ProcessSuggestion(ctx, store.SuggestedPreference{
		SuggestionID: "sug-1", AgentName: "Coach", Category: "comm", Key: "tone",
		SuggestedValue: "direct", Confidence: 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, result.Outcome)

	require.NoError(t, as.Rollback(ctx, result.AttemptID, "no previous value"))

	profile, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref, ok := profile.Pref("comm", "tone")
	require.True(t, ok)
	assert.Equal(t, "encouraging", pref.Value)
}
