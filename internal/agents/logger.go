package agents

import (
	"context"
	"fmt"

	"github.com/prefctl/prefctl/internal/governance"
)

// loggerAgent never proposes preference changes; it only reports. It is
// the lowest-priority agent kind in every named priority list (spec §8
// scenario 4), reflecting that its output is diagnostic rather than
// advisory.
type loggerAgent struct{}

func (a *loggerAgent) Name() Kind { return KindLogger }

func (a *loggerAgent) Handle(ctx context.Context, ev Event) ([]ProposalInput, error) {
	return nil, nil
}

func (a *loggerAgent) Fallback(ctx context.Context, agentName string, tmpl governance.Template, genCtx map[string]interface{}) (string, error) {
	if missing := tmpl.MissingFields(genCtx); len(missing) > 0 {
		return "", fmt.Errorf("agents: logger fallback missing fields %v", missing)
	}
	return renderTemplate(tmpl.Body, genCtx), nil
}
