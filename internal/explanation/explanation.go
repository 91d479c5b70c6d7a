// Package explanation composes Explanation views (spec §4.H) from
// Arbitration Decisions and Auto-Adaptation Attempts: a human-readable
// account of why a system decision came out the way it did, including
// what alternatives lost and why. Grounded on the teacher's
// internal/trace package, which likewise derives a read-only summary
// view from already-persisted records rather than owning its own
// aggregate.
package explanation

import (
	"context"
	"fmt"
	"time"

	"github.com/prefctl/prefctl/internal/store"
)

const rfc3339 = time.RFC3339

// AlternativeConsidered describes one proposal that did not win.
type AlternativeConsidered struct {
	ProposalID string
	AgentName  string
	Reason     string
}

// Explanation is the composed view returned to callers (spec §4.H).
type Explanation struct {
	Summary                string
	ContributingFactors    []store.DecisionFactor
	PoliciesInvolved       []string
	AlternativesConsidered []AlternativeConsidered
	WhyOthersLost          map[string]string // proposalID -> reason
	DecisionType           string            // "arbitration" or "adaptation"
	DecidedAt              string            // RFC3339
}

// Service composes Explanation views from already-persisted records.
type Service struct {
	decisions store.ArbitrationDecisionStore
	proposals store.ProposalStore
	attempts  store.AttemptStore
	policies  store.AdaptationPolicyStore
}

// NewService builds a Service.
func NewService(decisions store.ArbitrationDecisionStore, proposals store.ProposalStore, attempts store.AttemptStore, policies store.AdaptationPolicyStore) *Service {
	return &Service{decisions: decisions, proposals: proposals, attempts: attempts, policies: policies}
}

// ExplainArbitration composes the Explanation for an ArbitrationDecision:
// every losing proposal becomes an AlternativeConsidered, vetoed
// proposals always carry the fixed "Vetoed by policy rule" framing.
func (s *Service) ExplainArbitration(ctx context.Context, decisionID string) (*Explanation, error) {
	d, err := s.decisions.GetArbitrationDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("load arbitration decision %s: %w", decisionID, err)
	}

	alts := make([]AlternativeConsidered, 0, len(d.DecisionFactors))
	whyLost := make(map[string]string, len(d.DecisionFactors))
	for _, f := range d.DecisionFactors {
		if f.ProposalID == d.WinningProposalID {
			continue
		}
		reason := fmt.Sprintf("%v", f.Value)
		if f.Factor == "vetoed" {
			reason = "Vetoed by policy rule"
		}
		alts = append(alts, AlternativeConsidered{ProposalID: f.ProposalID, AgentName: f.AgentName, Reason: reason})
		whyLost[f.ProposalID] = reason
	}

	var summary string
	switch d.Outcome {
	case store.OutcomeWinnerSelected:
		summary = fmt.Sprintf("proposal %s from %s won under the %s strategy", d.WinningProposalID, winningAgent(d), d.StrategyUsed)
	case store.OutcomeAllVetoed:
		summary = "every proposal in this conflict was vetoed; no action was taken"
	case store.OutcomeEscalated:
		summary = "this conflict was escalated for human review: " + d.ReasoningSummary
	default:
		summary = d.ReasoningSummary
	}

	return &Explanation{
		Summary:                summary,
		ContributingFactors:    d.DecisionFactors,
		PoliciesInvolved:       []string{d.PolicyID},
		AlternativesConsidered: alts,
		WhyOthersLost:          whyLost,
		DecisionType:           "arbitration",
		DecidedAt:              d.CreatedAt.Format(rfc3339),
	}, nil
}

// ExplainAdaptation composes the Explanation for an Auto-Adaptation
// Attempt: factors cover confidence, risk level, and opt-in state; the
// summary names the attempt's result and, if applicable, its rollback
// status.
func (s *Service) ExplainAdaptation(ctx context.Context, attemptID string) (*Explanation, error) {
	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load auto-adaptation attempt %s: %w", attemptID, err)
	}

	factors := []store.DecisionFactor{
		{Factor: "confidence", Value: a.Confidence, Impact: impactFor(a.Confidence >= a.PolicySnapshot.MinConfidence)},
		{Factor: "risk_level", Value: a.RiskLevel, Impact: impactFor(allowsRisk(a.PolicySnapshot.AllowedRiskLevels, a.RiskLevel))},
		{Factor: "user_opted_in", Value: a.PolicySnapshot.UserOptedIn, Impact: impactFor(a.PolicySnapshot.UserOptedIn)},
	}

	summary := fmt.Sprintf("%s.%s was %s for %s", a.Category, a.Key, a.Result, a.AgentName)
	if a.Result == store.AttemptBlocked {
		summary += ": " + a.BlockReason
	}
	if a.RolledBack {
		summary += fmt.Sprintf(" (rolled back: %s)", a.RollbackReason)
	}

	return &Explanation{
		Summary:             summary,
		ContributingFactors: factors,
		PoliciesInvolved:    []string{a.PolicyID},
		DecisionType:        "adaptation",
		DecidedAt:           a.Timestamp.Format(rfc3339),
	}, nil
}

func winningAgent(d *store.ArbitrationDecision) string {
	for _, f := range d.DecisionFactors {
		if f.ProposalID == d.WinningProposalID {
			return f.AgentName
		}
	}
	return ""
}

func impactFor(ok bool) store.FactorImpact {
	if ok {
		return store.ImpactPositive
	}
	return store.ImpactNegative
}

func allowsRisk(allowed []store.RiskLevel, r store.RiskLevel) bool {
	for _, a := range allowed {
		if a == r {
			return true
		}
	}
	return false
}
