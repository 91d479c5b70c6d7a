package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
)

type stubLLM struct {
	resp Response
	err  error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string) (Response, error) {
	return s.resp, s.err
}

func ruleFallback(ctx context.Context, agentName string, tmpl Template, genCtx map[string]interface{}) (string, error) {
	return "fallback content for " + agentName, nil
}

func testTemplate() Template {
	return Template{
		Name:           "greet",
		Body:           "Hello {{.name}}",
		RequiredFields: []string{"name"},
	}
}

func TestGenerateWithGovernance_DisabledPolicyFallsBack(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{AgentName: "Coach", AIEnabled: false, FallbackToRules: true}))

	eng := New(s, s, &stubLLM{}, nil, nil)
	result, err := eng.GenerateWithGovernance(ctx, GenerateOpts{
		AgentName: "Coach",
		Template:  testTemplate(),
		Context:   map[string]interface{}{"name": "Ana"},
		Fallback:  ruleFallback,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReasoningFallback, result.ReasoningSource)
	assert.Equal(t, "disabled", result.FallbackReason)
}

func TestGenerateWithGovernance_MissingFieldsFailsWithoutFallback(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{AgentName: "Coach", AIEnabled: true, FallbackToRules: false}))

	eng := New(s, s, &stubLLM{}, nil, nil)
	_, err := eng.GenerateWithGovernance(ctx, GenerateOpts{
		AgentName: "Coach",
		Template:  testTemplate(),
		Context:   map[string]interface{}{},
		Fallback:  ruleFallback,
	})
	require.Error(t, err)
}

func TestGenerateWithGovernance_LowConfidenceFallsBack(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{
		AgentName: "Coach", AIEnabled: true, FallbackToRules: true, ConfidenceThreshold: 0.8,
	}))

	eng := New(s, s, &stubLLM{resp: Response{Content: "hi", Confidence: 0.3}}, nil, nil)
	result, err := eng.GenerateWithGovernance(ctx, GenerateOpts{
		AgentName: "Coach",
		Template:  testTemplate(),
		Context:   map[string]interface{}{"name": "Ana"},
		Fallback:  ruleFallback,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReasoningFallback, result.ReasoningSource)
	assert.Contains(t, result.FallbackReason, "low confidence")
}

func TestGenerateWithGovernance_SuccessfulAICall(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{
		AgentName: "Coach", AIEnabled: true, FallbackToRules: true, ConfidenceThreshold: 0.5,
	}))

	eng := New(s, s, &stubLLM{resp: Response{Content: "hello Ana", Confidence: 0.9, Model: "gpt-test"}}, nil, nil)
	result, err := eng.GenerateWithGovernance(ctx, GenerateOpts{
		AgentName: "Coach",
		Template:  testTemplate(),
		Context:   map[string]interface{}{"name": "Ana"},
		Fallback:  ruleFallback,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReasoningLLM, result.ReasoningSource)
	require.NotNil(t, result.AI)
	assert.Equal(t, "gpt-test", result.AI.Model)
}

func TestGenerateWithDecisionRecord_Persists(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{AgentName: "Coach", AIEnabled: false, FallbackToRules: true}))

	eng := New(s, s, &stubLLM{}, nil, nil)
	_, record, err := eng.GenerateWithDecisionRecord(ctx, GenerateOpts{
		AgentName:    "Coach",
		Template:     testTemplate(),
		Context:      map[string]interface{}{"name": "Ana"},
		Fallback:     ruleFallback,
		DecisionType: "greeting",
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	fetched, err := s.GetDecision(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "greeting", fetched.DecisionType)
}

func TestCanTakeAction_RespectsCooldown(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{AgentName: "Coach", CooldownMs: 60_000}))

	eng := New(s, s, &stubLLM{}, nil, nil)
	ok, err := eng.CanTakeAction(ctx, "Coach", "agg-1")
	require.NoError(t, err)
	assert.True(t, ok)

	eng.RecordAction("Coach", "agg-1")
	ok, err = eng.CanTakeAction(ctx, "Coach", "agg-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanMakeSuggestion_RespectsMax(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.PutAgentPolicy(ctx, store.AgentPolicy{AgentName: "Coach", MaxSuggestionsPerEvent: 1}))

	eng := New(s, s, &stubLLM{}, nil, nil)
	ok, err := eng.CanMakeSuggestion(ctx, "Coach", "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	eng.RecordSuggestion("Coach", "evt-1")
	ok, err = eng.CanMakeSuggestion(ctx, "Coach", "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(2, 0)
	failing := func(ctx context.Context) (Response, error) { return Response{}, assert.AnError }

	_, _ = b.Call(context.Background(), failing)
	assert.Equal(t, StateClosed, b.State())
	_, _ = b.Call(context.Background(), failing)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Call(context.Background(), func(ctx context.Context) (Response, error) { return Response{}, nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
}
