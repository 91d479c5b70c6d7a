// Package arbitration implements Arbitration (spec §4.G): resolving a
// conflict between concurrently submitted proposals into a single
// decision via veto gating, escalation checks, and one of four
// resolution strategies. Grounded on the teacher's internal/policy/
// engine.go pipeline-with-short-circuit shape (evaluate rules in a fixed
// order, stop at the first that determines the outcome) and
// internal/policy/cel.go for compiling structured rule conditions into
// reusable CEL programs.
package arbitration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/store"
)

// LockChecker reports whether (category, key) is currently locked against
// auto-adaptation, used to evaluate preferenceLock veto rules. Arbitration
// has no direct dependency on the Adaptation Policy store, so this is
// injected by whatever wires the Engine together.
type LockChecker func(category, key string) bool

// Engine implements conflict resolution end to end: policy lookup, veto
// gating, escalation checks, strategy selection, and decision
// finalization.
type Engine struct {
	policies  store.ArbitrationPolicyStore
	decisions store.ArbitrationDecisionStore
	conflicts store.ConflictStore
	proposals store.ProposalStore
	bus       *eventbus.Bus
	obs       *obs.Context

	vetoEnv     *cel.Env
	lockChecker LockChecker
	profiles    store.ProfileStore
}

// WithProfiles attaches a ProfileStore so that winning proposals targeting
// a preference are actually applied to the agent's profile when a
// decision is finalized, not merely marked approved. Optional: an Engine
// without one only updates proposal/conflict status, leaving the
// connected preference untouched (matching spec §4.G's decision output,
// which does not itself mandate a profile write).
func (e *Engine) WithProfiles(p store.ProfileStore) *Engine {
	e.profiles = p
	return e
}

// NewEngine builds an Engine. lockChecker may be nil, in which case
// preferenceLock veto rules never match.
func NewEngine(
	policies store.ArbitrationPolicyStore,
	decisions store.ArbitrationDecisionStore,
	conflicts store.ConflictStore,
	proposals store.ProposalStore,
	bus *eventbus.Bus,
	lockChecker LockChecker,
	observability *obs.Context,
) (*Engine, error) {
	env, err := newVetoEnv()
	if err != nil {
		return nil, fmt.Errorf("build veto CEL environment: %w", err)
	}
	if observability == nil {
		observability = obs.Null()
	}
	return &Engine{
		policies: policies, decisions: decisions, conflicts: conflicts, proposals: proposals,
		bus: bus, obs: observability.With("arbitration.Engine"),
		vetoEnv: env, lockChecker: lockChecker,
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, ev eventbus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Dispatch(ctx, ev); err != nil {
		e.obs.Logger.Warn("event dispatch failed", "event_type", ev.EventType(), "error", err)
	}
}

func (e *Engine) locked(p store.AgentActionProposal) bool {
	if e.lockChecker == nil || p.TargetRef.Type != "preference" {
		return false
	}
	return e.lockChecker(p.TargetRef.ID, p.TargetRef.Key)
}

// Resolve arbitrates conflict's proposals per spec §4.G and persists the
// resulting ArbitrationDecision.
func (e *Engine) Resolve(ctx context.Context, conflict store.Conflict, proposals []store.AgentActionProposal) (*store.ArbitrationDecision, error) {
	policy, err := findApplicablePolicy(ctx, e.policies, proposals)
	if err != nil {
		return nil, fmt.Errorf("find applicable arbitration policy: %w", err)
	}

	vetoed := make(map[string]bool)
	vetoReason := make(map[string]string)
	for _, rule := range policy.VetoRules {
		compiled, err := CompileVetoRule(e.vetoEnv, rule)
		if err != nil {
			return nil, err
		}
		for _, p := range proposals {
			if vetoed[p.ID] {
				continue
			}
			matched, err := compiled.Evaluate(p, e.locked(p))
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
			if rule.EscalateOnVeto {
				return e.finalizeEscalation(ctx, conflict, policy, proposals,
					"veto rule "+rule.Name+" requires escalation on match")
			}
			vetoed[p.ID] = true
			vetoReason[p.ID] = rule.Name
		}
	}

	remaining := make([]store.AgentActionProposal, 0, len(proposals))
	for _, p := range proposals {
		if !vetoed[p.ID] {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		return e.finalizeAllVetoed(ctx, conflict, policy, proposals, vetoReason)
	}

	if match := escalationApplies(policy.EscalationRule, remaining); match.Matched {
		return e.finalizeEscalation(ctx, conflict, policy, proposals, match.Reason)
	}

	var result StrategyResult
	switch policy.ResolutionStrategy {
	case store.StrategyWeighted:
		result = selectByWeighted(remaining, policy.Weights)
	case store.StrategyVeto:
		result = selectByVeto(remaining)
	case store.StrategyConsensus:
		result, err = selectByConsensus(remaining)
		if err != nil {
			return nil, err
		}
		if result.NoClearWinner {
			return e.finalizeEscalation(ctx, conflict, policy, proposals, "no_clear_winner")
		}
	default:
		result = selectByPriority(remaining, policy.PriorityOrder)
	}

	return e.finalizeWinner(ctx, conflict, policy, proposals, vetoReason, result)
}

func (e *Engine) finalizeWinner(ctx context.Context, conflict store.Conflict, policy store.ArbitrationPolicy, all []store.AgentActionProposal, vetoReason map[string]string, result StrategyResult) (*store.ArbitrationDecision, error) {
	suppressedIDs := make([]string, 0, len(result.Suppressed))
	for _, p := range result.Suppressed {
		suppressedIDs = append(suppressedIDs, p.ID)
	}
	vetoedIDs := make([]string, 0, len(vetoReason))
	for id := range vetoReason {
		vetoedIDs = append(vetoedIDs, id)
	}

	factors := make([]store.DecisionFactor, 0, len(all))
	for _, p := range all {
		switch {
		case p.ID == result.Winner.ID:
			factors = append(factors, store.DecisionFactor{
				ProposalID: p.ID, AgentName: p.AgentName,
				Factor: string(policy.ResolutionStrategy), Value: "winner", Impact: store.ImpactPositive,
			})
		case vetoReason[p.ID] != "":
			factors = append(factors, store.DecisionFactor{
				ProposalID: p.ID, AgentName: p.AgentName,
				Factor: "vetoed", Value: vetoReason[p.ID], Impact: store.ImpactNegative,
			})
		default:
			factors = append(factors, store.DecisionFactor{
				ProposalID: p.ID, AgentName: p.AgentName,
				Factor: "suppressed", Value: result.Comparison[p.ID], Impact: store.ImpactNegative,
			})
		}
	}

	decision := store.ArbitrationDecision{
		ID: uuid.NewString(), ConflictID: conflict.ID, PolicyID: policy.ID,
		StrategyUsed: policy.ResolutionStrategy, Outcome: store.OutcomeWinnerSelected,
		WinningProposalID: result.Winner.ID, SuppressedProposalIDs: suppressedIDs,
		VetoedProposalIDs: vetoedIDs, DecisionFactors: factors,
		ReasoningSummary: fmt.Sprintf("%s strategy selected proposal %s from agent %s",
			policy.ResolutionStrategy, result.Winner.ID, result.Winner.AgentName),
		SelectedProposalID: result.Winner.ID, CreatedAt: time.Now(),
	}
	if err := e.decisions.CreateArbitrationDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist arbitration decision: %w", err)
	}

	if err := e.updateProposalStatuses(ctx, decision.ID, result.Winner.ID, suppressedIDs, vetoedIDs); err != nil {
		return nil, err
	}
	if err := e.applyWinningPreference(ctx, result.Winner, decision.ID); err != nil {
		return nil, err
	}
	conflict.Resolved = true
	if err := e.conflicts.UpdateConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("mark conflict resolved: %w", err)
	}

	e.dispatch(ctx, events.ArbitrationResolved{
		DecisionID: decision.ID, ConflictID: conflict.ID, Outcome: string(decision.Outcome),
		WinningProposalID: decision.WinningProposalID, SuppressedCount: len(suppressedIDs), VetoedCount: len(vetoedIDs),
	})
	for _, p := range result.Suppressed {
		e.dispatch(ctx, events.ActionSuppressed{
			DecisionID: decision.ID, ProposalID: p.ID, AgentName: p.AgentName,
			Reason: "lost arbitration under " + string(policy.ResolutionStrategy) + " strategy",
			Comparison: result.Comparison[p.ID],
		})
	}

	return &decision, nil
}

func (e *Engine) finalizeAllVetoed(ctx context.Context, conflict store.Conflict, policy store.ArbitrationPolicy, all []store.AgentActionProposal, vetoReason map[string]string) (*store.ArbitrationDecision, error) {
	vetoedIDs := make([]string, 0, len(all))
	factors := make([]store.DecisionFactor, 0, len(all))
	for _, p := range all {
		vetoedIDs = append(vetoedIDs, p.ID)
		factors = append(factors, store.DecisionFactor{
			ProposalID: p.ID, AgentName: p.AgentName,
			Factor: "vetoed", Value: vetoReason[p.ID], Impact: store.ImpactNegative,
		})
	}

	decision := store.ArbitrationDecision{
		ID: uuid.NewString(), ConflictID: conflict.ID, PolicyID: policy.ID,
		StrategyUsed: policy.ResolutionStrategy, Outcome: store.OutcomeAllVetoed,
		VetoedProposalIDs: vetoedIDs, DecisionFactors: factors,
		ReasoningSummary: "every proposal in this conflict was vetoed",
		CreatedAt:         time.Now(),
	}
	if err := e.decisions.CreateArbitrationDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist arbitration decision: %w", err)
	}
	if err := e.updateProposalStatuses(ctx, decision.ID, "", nil, vetoedIDs); err != nil {
		return nil, err
	}
	conflict.Resolved = true
	if err := e.conflicts.UpdateConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("mark conflict resolved: %w", err)
	}

	e.dispatch(ctx, events.ArbitrationResolved{
		DecisionID: decision.ID, ConflictID: conflict.ID, Outcome: string(decision.Outcome),
		VetoedCount: len(vetoedIDs),
	})
	return &decision, nil
}

func (e *Engine) finalizeEscalation(ctx context.Context, conflict store.Conflict, policy store.ArbitrationPolicy, all []store.AgentActionProposal, reason string) (*store.ArbitrationDecision, error) {
	ids := make([]string, 0, len(all))
	var suggestion string
	var highestConfidence float64
	for _, p := range all {
		ids = append(ids, p.ID)
		if suggestion == "" || p.ConfidenceScore > highestConfidence {
			suggestion = p.ID
			highestConfidence = p.ConfidenceScore
		}
	}

	decision := store.ArbitrationDecision{
		ID: uuid.NewString(), ConflictID: conflict.ID, PolicyID: policy.ID,
		StrategyUsed: policy.ResolutionStrategy, Outcome: store.OutcomeEscalated,
		DecisionFactors:       []store.DecisionFactor{},
		ReasoningSummary:      reason,
		RequiresHumanApproval: true,
		CreatedAt:             time.Now(),
	}
	if err := e.decisions.CreateArbitrationDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist arbitration decision: %w", err)
	}
	for _, id := range ids {
		p, err := e.proposals.GetProposal(ctx, id)
		if err != nil {
			continue
		}
		p.Status = store.ProposalEscalated
		p.DecisionID = decision.ID
		if err := e.proposals.UpdateProposal(ctx, *p); err != nil {
			return nil, fmt.Errorf("mark proposal %s escalated: %w", id, err)
		}
	}

	e.dispatch(ctx, events.ArbitrationEscalated{
		DecisionID: decision.ID, ConflictID: conflict.ID, Reason: reason,
		EscalatedProposals: ids, Suggestion: suggestion,
	})
	return &decision, nil
}

// applyWinningPreference writes winner's proposed value into the agent's
// profile when it targets a preference, recording the mutation against
// decisionID so RollbackService.RollbackByDecision can unwind it. A no-op
// when no ProfileStore was attached or the winner targets something else
// (e.g. a tool invocation or resource action).
func (e *Engine) applyWinningPreference(ctx context.Context, winner store.AgentActionProposal, decisionID string) error {
	if e.profiles == nil || winner.TargetRef.Type != "preference" {
		return nil
	}
	category, key := winner.TargetRef.ID, winner.TargetRef.Key

	profile, err := e.profiles.GetProfile(ctx, winner.AgentName)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", winner.AgentName, err)
	}
	current, _ := profile.Pref(category, key)

	if err := e.profiles.UpsertPreference(ctx, winner.AgentName, store.UserPreference{
		Category: category, Key: key, Value: winner.ProposedValue,
		Confidence: winner.ConfidenceScore, Source: "arbitration", LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("apply winning proposal %s: %w", winner.ID, err)
	}
	if err := e.profiles.AppendChange(ctx, winner.AgentName, store.PreferenceChange{
		AgentName: winner.AgentName, Category: category, Key: key,
		OldValue: current.Value, NewValue: winner.ProposedValue,
		Source: "arbitration", DecisionID: decisionID, ChangedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("record arbitration change: %w", err)
	}
	return nil
}

func (e *Engine) updateProposalStatuses(ctx context.Context, decisionID, winnerID string, suppressedIDs, vetoedIDs []string) error {
	apply := func(id string, status store.ProposalStatus) error {
		p, err := e.proposals.GetProposal(ctx, id)
		if err != nil {
			return fmt.Errorf("load proposal %s: %w", id, err)
		}
		p.Status = status
		p.DecisionID = decisionID
		return e.proposals.UpdateProposal(ctx, *p)
	}

	if winnerID != "" {
		if err := apply(winnerID, store.ProposalApproved); err != nil {
			return err
		}
	}
	for _, id := range suppressedIDs {
		if err := apply(id, store.ProposalSuppressed); err != nil {
			return err
		}
	}
	for _, id := range vetoedIDs {
		if err := apply(id, store.ProposalVetoed); err != nil {
			return err
		}
	}
	return nil
}
