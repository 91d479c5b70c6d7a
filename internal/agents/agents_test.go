package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/store"
)

func TestKnown_ListsClosedSet(t *testing.T) {
	assert.Equal(t, []Kind{KindCoach, KindPlanner, KindLogger}, Known())
}

func TestValid_RejectsUnknownKind(t *testing.T) {
	assert.True(t, Valid("Coach"))
	assert.False(t, Valid("Scheduler"))
}

func TestRegistry_DispatchUnknownKindErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), Kind("Scheduler"), Event{})
	require.Error(t, err)
}

func TestCoachAgent_ProposesOnNewToneValue(t *testing.T) {
	r := NewRegistry()
	profile := &store.AgentLearningProfile{AgentName: "Coach"}

	proposals, err := r.Dispatch(context.Background(), KindCoach, Event{
		EventID: "ev-1", AgentName: "Coach", Category: "comm", Key: "tone",
		Value: "direct", Profile: profile,
	})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "direct", proposals[0].ProposedValue)
	assert.Equal(t, store.RiskLow, proposals[0].RiskLevel)
}

func TestCoachAgent_SkipsUnchangedValue(t *testing.T) {
	r := NewRegistry()
	profile := &store.AgentLearningProfile{
		AgentName:   "Coach",
		Preferences: []store.UserPreference{{Category: "comm", Key: "tone", Value: "direct"}},
	}

	proposals, err := r.Dispatch(context.Background(), KindCoach, Event{
		Category: "comm", Key: "tone", Value: "direct", Profile: profile,
	})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestPlannerAgent_OnlyProposesWhenNoExistingPreference(t *testing.T) {
	r := NewRegistry()
	emptyProfile := &store.AgentLearningProfile{AgentName: "Planner"}

	proposals, err := r.Dispatch(context.Background(), KindPlanner, Event{
		Category: "scheduling", Key: "batchWindow", Value: "morning", Profile: emptyProfile,
	})
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	setProfile := &store.AgentLearningProfile{
		AgentName:   "Planner",
		Preferences: []store.UserPreference{{Category: "scheduling", Key: "batchWindow", Value: "evening"}},
	}
	proposals, err = r.Dispatch(context.Background(), KindPlanner, Event{
		Category: "scheduling", Key: "batchWindow", Value: "morning", Profile: setProfile,
	})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestLoggerAgent_NeverProposes(t *testing.T) {
	r := NewRegistry()
	proposals, err := r.Dispatch(context.Background(), KindLogger, Event{Category: "anything"})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestFallbackFor_RendersTemplate(t *testing.T) {
	r := NewRegistry()
	fn, ok := r.FallbackFor(KindCoach)
	require.True(t, ok)

	tmpl := governance.Template{Name: "encourage", Body: "Nice work, {{name}}.", RequiredFields: []string{"name"}}
	out, err := fn(context.Background(), "Coach", tmpl, map[string]interface{}{"name": "Jordan"})
	require.NoError(t, err)
	assert.Equal(t, "Nice work, Jordan.", out)
}

func TestFallbackFor_MissingFieldErrors(t *testing.T) {
	r := NewRegistry()
	fn, ok := r.FallbackFor(KindPlanner)
	require.True(t, ok)

	tmpl := governance.Template{Name: "plan", Body: "Scheduling {{task}}", RequiredFields: []string{"task"}}
	_, err := fn(context.Background(), "Planner", tmpl, map[string]interface{}{})
	require.Error(t, err)
}
