package agents

import (
	"context"
	"fmt"

	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/store"
)

// plannerAgent advises on scheduling and task-sequencing preferences. It
// proposes a value only when the profile has no current preference at
// all, leaving an already-set value to Coach-style refinement instead of
// contending for the same key (spec §8 scenario 4's priority ordering
// [Coach, Planner, Logger] expects Planner to lose ties it enters).
type plannerAgent struct{}

func (a *plannerAgent) Name() Kind { return KindPlanner }

func (a *plannerAgent) Handle(ctx context.Context, ev Event) ([]ProposalInput, error) {
	if ev.Category != "scheduling" || ev.Profile == nil {
		return nil, nil
	}
	if _, hasPref := ev.Profile.Pref(ev.Category, ev.Key); hasPref {
		return nil, nil
	}
	return []ProposalInput{{
		AgentName:          string(KindPlanner),
		ActionType:         "adjust_preference",
		TargetRef:          store.TargetRef{Type: "preference", ID: ev.AgentName, Key: ev.Category + "." + ev.Key},
		ProposedValue:      ev.Value,
		ConfidenceScore:    0.6,
		RiskLevel:          store.RiskLow,
		OriginatingEventID: ev.EventID,
	}}, nil
}

func (a *plannerAgent) Fallback(ctx context.Context, agentName string, tmpl governance.Template, genCtx map[string]interface{}) (string, error) {
	if missing := tmpl.MissingFields(genCtx); len(missing) > 0 {
		return "", fmt.Errorf("agents: planner fallback missing fields %v", missing)
	}
	return renderTemplate(tmpl.Body, genCtx), nil
}
