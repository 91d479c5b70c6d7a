package agents

import (
	"context"
	"fmt"

	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/store"
)

// coachAgent advises on communication style: tone, verbosity, pacing. It
// proposes narrowing toward whatever value a profile's recent feedback
// most favors, mirroring spec §8 scenario 4's Coach/tone example.
type coachAgent struct{}

func (a *coachAgent) Name() Kind { return KindCoach }

func (a *coachAgent) Handle(ctx context.Context, ev Event) ([]ProposalInput, error) {
	if ev.Category != "comm" || ev.Profile == nil {
		return nil, nil
	}
	current, hasPref := ev.Profile.Pref(ev.Category, ev.Key)
	if hasPref && current.Value == ev.Value {
		return nil, nil
	}
	return []ProposalInput{{
		AgentName:          string(KindCoach),
		ActionType:         "adjust_preference",
		TargetRef:          store.TargetRef{Type: "preference", ID: ev.AgentName, Key: ev.Category + "." + ev.Key},
		ProposedValue:      ev.Value,
		ConfidenceScore:    0.8,
		RiskLevel:          store.RiskLow,
		OriginatingEventID: ev.EventID,
	}}, nil
}

// Fallback renders coaching copy from the template body without calling
// an LLM, substituting {{field}} placeholders from genCtx.
func (a *coachAgent) Fallback(ctx context.Context, agentName string, tmpl governance.Template, genCtx map[string]interface{}) (string, error) {
	if missing := tmpl.MissingFields(genCtx); len(missing) > 0 {
		return "", fmt.Errorf("agents: coach fallback missing fields %v", missing)
	}
	return renderTemplate(tmpl.Body, genCtx), nil
}
