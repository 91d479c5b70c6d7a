package arbitration

import (
	"context"
	"strings"

	"github.com/prefctl/prefctl/internal/store"
)

// defaultPolicy is the synthetic fallback findApplicablePolicy returns
// when no stored policy matches at any scope: priority strategy, empty
// priority order (every agent ties, so the first submitted wins), no
// veto rules, no escalation triggers.
func defaultPolicy() store.ArbitrationPolicy {
	return store.ArbitrationPolicy{
		ID:                 "fallback-default",
		Scope:              store.ScopeGlobal,
		ResolutionStrategy: store.StrategyPriority,
		IsDefault:          true,
	}
}

// findApplicablePolicy resolves the most specific ArbitrationPolicy for a
// group of proposals: preference scope, then agent scope, then the
// stored global default, falling back to a synthetic default if the store
// has none at all.
func findApplicablePolicy(ctx context.Context, policies store.ArbitrationPolicyStore, proposals []store.AgentActionProposal) (store.ArbitrationPolicy, error) {
	agentNames := make([]string, 0, len(proposals))
	seen := make(map[string]struct{})
	for _, p := range proposals {
		if _, ok := seen[p.AgentName]; ok {
			continue
		}
		seen[p.AgentName] = struct{}{}
		agentNames = append(agentNames, p.AgentName)
	}

	preferenceKey := ""
	if len(proposals) > 0 && proposals[0].TargetRef.Type == "preference" {
		preferenceKey = proposals[0].TargetRef.ID
		if proposals[0].TargetRef.Key != "" {
			preferenceKey = strings.TrimSuffix(preferenceKey, ".") + "." + proposals[0].TargetRef.Key
		}
	}

	policy, err := policies.ResolvePolicy(ctx, agentNames, preferenceKey)
	if err != nil {
		if err == store.ErrNotFound {
			return defaultPolicy(), nil
		}
		return store.ArbitrationPolicy{}, err
	}
	return *policy, nil
}
