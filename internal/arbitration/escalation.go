package arbitration

import (
	"github.com/prefctl/prefctl/internal/store"
)

// EscalationMatch describes why escalationApplies returned true.
type EscalationMatch struct {
	Matched bool
	Reason  string
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func distinctAgents(proposals []store.AgentActionProposal) int {
	seen := make(map[string]struct{}, len(proposals))
	for _, p := range proposals {
		seen[p.AgentName] = struct{}{}
	}
	return len(seen)
}

// escalationApplies runs the five escalation conditions named in spec
// §4.G, in order, against the full remaining proposal group (not vetoed).
// The first proposal that trips a condition determines the reported
// reason; multi-agent-conflict and always-escalate are evaluated against
// the whole group rather than per-proposal since they are group-level
// facts.
func escalationApplies(rule store.EscalationRule, proposals []store.AgentActionProposal) EscalationMatch {
	for _, p := range proposals {
		if contains(rule.AlwaysEscalateAgents, p.AgentName) {
			return EscalationMatch{Matched: true, Reason: "agent " + p.AgentName + " is configured to always escalate"}
		}
	}

	if rule.OnMultiAgentConflict && distinctAgents(proposals) > 1 {
		return EscalationMatch{Matched: true, Reason: "conflict involves multiple distinct agents"}
	}

	if rule.RiskThreshold != "" {
		for _, p := range proposals {
			if riskNumeric(p.RiskLevel) >= riskNumeric(rule.RiskThreshold) {
				return EscalationMatch{Matched: true, Reason: "proposal risk level meets or exceeds the escalation threshold"}
			}
		}
	}

	if rule.CostThreshold != nil {
		for _, p := range proposals {
			if p.CostEstimate >= *rule.CostThreshold {
				return EscalationMatch{Matched: true, Reason: "proposal cost meets or exceeds the escalation threshold"}
			}
		}
	}

	if rule.ConfidenceThreshold != nil {
		for _, p := range proposals {
			if p.ConfidenceScore < *rule.ConfidenceThreshold {
				return EscalationMatch{Matched: true, Reason: "proposal confidence is below the escalation threshold"}
			}
		}
	}

	return EscalationMatch{}
}
