package adaptation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/agents"
	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
)

// ProcessOutcome reports what ProcessSuggestion did with a suggestion.
type ProcessOutcome string

const (
	OutcomeApplied  ProcessOutcome = "applied"
	OutcomeBlocked  ProcessOutcome = "blocked"
	OutcomeSkipped  ProcessOutcome = "skipped"
	OutcomeProposed ProcessOutcome = "proposed"
)

// ProposalRouter routes an allowed auto-adaptation decision through the
// governed multi-agent proposal/conflict/arbitration pipeline instead of
// writing it to the profile directly. *pipeline.Coordinator satisfies
// this; adaptation does not import pipeline to avoid a dependency its
// policy-evaluation logic does not otherwise need.
type ProposalRouter interface {
	TriggerAgent(ctx context.Context, kind agents.Kind, ev agents.Event) ([]store.AgentActionProposal, error)
}

// ProcessResult is returned by ProcessSuggestion.
type ProcessResult struct {
	Outcome   ProcessOutcome
	AttemptID string
	Reason    string
}

// AttemptService drives the auto-adaptation attempt state machine:
// created → {applied, blocked, skipped, proposed}, applied → optionally rolledBack.
// Grounded on the teacher's internal/evolution rollback shape, generalized
// to restore either the attempt's recorded PreviousValue or, absent one,
// the preference's registry default.
type AttemptService struct {
	policy   *PolicyService
	attempts store.AttemptStore
	profiles store.ProfileStore
	registry *registry.Registry
	bus      *eventbus.Bus
	obs      *obs.Context

	proposals ProposalRouter
}

// NewAttemptService builds an AttemptService.
func NewAttemptService(policy *PolicyService, attempts store.AttemptStore, profiles store.ProfileStore, reg *registry.Registry, bus *eventbus.Bus, observability *obs.Context) *AttemptService {
	if observability == nil {
		observability = obs.Null()
	}
	return &AttemptService{
		policy:   policy,
		attempts: attempts,
		profiles: profiles,
		registry: reg,
		bus:      bus,
		obs:      observability.With("adaptation.AttemptService"),
	}
}

// WithProposals attaches a ProposalRouter, switching an allowed decision
// from "apply directly" to "submit for arbitration": once wired, a
// SuggestedPreference for an agent kind the router recognizes is routed
// through TriggerAgent rather than upserted onto the profile in place.
// When the router produces no proposal for ev (the agent's own decision
// logic declines it, or the agent name is outside the closed Kind set),
// ProcessSuggestion falls back to applying directly, same as when no
// router is attached at all.
func (a *AttemptService) WithProposals(router ProposalRouter) *AttemptService {
	a.proposals = router
	return a
}

func (a *AttemptService) dispatch(ctx context.Context, ev eventbus.Event) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Dispatch(ctx, ev); err != nil {
		a.obs.Logger.Warn("event dispatch failed", "event_type", ev.EventType(), "error", err)
	}
}

// ProcessSuggestion evaluates sp for auto-adaptation and, if permitted,
// applies it to the agent's profile. Every outcome — applied, blocked,
// skipped, or proposed — is persisted as an AutoAdaptationAttempt.
// Applied, blocked and skipped outcomes are also emitted as a domain
// event; a proposed outcome emits no event of its own (the proposal
// pipeline emits ProposalSubmitted).
func (a *AttemptService) ProcessSuggestion(ctx context.Context, sp store.SuggestedPreference) (ProcessResult, error) {
	profile, err := a.profiles.GetProfile(ctx, sp.AgentName)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("load profile for %s: %w", sp.AgentName, err)
	}

	if current, ok := profile.Pref(sp.Category, sp.Key); ok && current.Value == sp.SuggestedValue {
		id := uuid.NewString()
		attempt := store.AutoAdaptationAttempt{
			ID: id, AgentName: sp.AgentName, SuggestionID: sp.SuggestionID,
			Category: sp.Category, Key: sp.Key,
			PreviousValue: current.Value, SuggestedValue: sp.SuggestedValue,
			Confidence: sp.Confidence, Result: store.AttemptSkipped,
			BlockReason: ReasonAlreadyAtValue, Timestamp: time.Now(),
		}
		if err := a.attempts.CreateAttempt(ctx, attempt); err != nil {
			return ProcessResult{}, fmt.Errorf("persist skipped attempt: %w", err)
		}
		a.dispatch(ctx, events.PreferenceAutoSkipped{
			AgentName: sp.AgentName, AttemptID: id, Category: sp.Category, Key: sp.Key, Reason: ReasonAlreadyAtValue,
		})
		return ProcessResult{Outcome: OutcomeSkipped, AttemptID: id, Reason: ReasonAlreadyAtValue}, nil
	}

	risk := store.RiskLow
	if regRisk, ok := a.registry.GetRiskLevel(sp.Category, sp.Key); ok {
		risk = store.RiskLevel(regRisk)
	}

	eval, err := a.policy.EvaluateAutoAdaptation(ctx, sp.AgentName, sp.Category, sp.Key, sp.Confidence, risk)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("evaluate auto-adaptation: %w", err)
	}

	policy, err := a.policy.GetOrCreatePolicy(ctx, sp.AgentName)
	if err != nil {
		return ProcessResult{}, err
	}
	snapshot := store.PolicySnapshot{
		Mode: policy.Mode, UserOptedIn: policy.UserOptedIn,
		MinConfidence: policy.MinConfidence, AllowedRiskLevels: policy.AllowedRiskLevels,
	}

	current, _ := profile.Pref(sp.Category, sp.Key)
	id := uuid.NewString()
	attempt := store.AutoAdaptationAttempt{
		ID: id, AgentName: sp.AgentName, SuggestionID: sp.SuggestionID,
		Category: sp.Category, Key: sp.Key,
		PreviousValue: current.Value, SuggestedValue: sp.SuggestedValue,
		Confidence: sp.Confidence, RiskLevel: risk,
		PolicyID: policy.ID, PolicySnapshot: snapshot, Timestamp: time.Now(),
	}

	if !eval.Allowed {
		attempt.Result = store.AttemptBlocked
		attempt.BlockReason = eval.BlockReason
		if err := a.attempts.CreateAttempt(ctx, attempt); err != nil {
			return ProcessResult{}, fmt.Errorf("persist blocked attempt: %w", err)
		}
		a.dispatch(ctx, events.PreferenceAutoBlocked{
			AgentName: sp.AgentName, AttemptID: id, Category: sp.Category, Key: sp.Key, BlockReason: eval.BlockReason,
		})
		return ProcessResult{Outcome: OutcomeBlocked, AttemptID: id, Reason: eval.BlockReason}, nil
	}

	if a.proposals != nil && agents.Valid(sp.AgentName) {
		ev := agents.Event{
			EventID: uuid.NewString(), AgentName: sp.AgentName,
			Category: sp.Category, Key: sp.Key, Value: sp.SuggestedValue, Profile: profile,
		}
		routed, err := a.proposals.TriggerAgent(ctx, agents.Kind(sp.AgentName), ev)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("route suggestion through proposal pipeline: %w", err)
		}
		if len(routed) > 0 {
			attempt.Result = store.AttemptProposed
			attempt.ProposalID = routed[0].ID
			if err := a.attempts.CreateAttempt(ctx, attempt); err != nil {
				return ProcessResult{}, fmt.Errorf("persist proposed attempt: %w", err)
			}
			return ProcessResult{Outcome: OutcomeProposed, AttemptID: id, Reason: "routed to arbitration pipeline"}, nil
		}
		// The agent's own decision logic produced nothing for this
		// suggestion (e.g. no handler reacts to sp.Category) — fall
		// through to applying directly, same as the no-router case.
	}

	if err := a.profiles.UpsertPreference(ctx, sp.AgentName, store.UserPreference{
		Category: sp.Category, Key: sp.Key, Value: sp.SuggestedValue,
		Confidence: sp.Confidence, Source: "auto_adapted", LastUpdated: time.Now(),
	}); err != nil {
		return ProcessResult{}, fmt.Errorf("apply auto-adapted preference: %w", err)
	}
	if err := a.profiles.AppendChange(ctx, sp.AgentName, store.PreferenceChange{
		AgentName: sp.AgentName, Category: sp.Category, Key: sp.Key,
		OldValue: current.Value, NewValue: sp.SuggestedValue, Source: "auto_adapted", ChangedAt: time.Now(),
	}); err != nil {
		return ProcessResult{}, fmt.Errorf("record auto-adapted change: %w", err)
	}

	attempt.Result = store.AttemptApplied
	if err := a.attempts.CreateAttempt(ctx, attempt); err != nil {
		return ProcessResult{}, fmt.Errorf("persist applied attempt: %w", err)
	}
	if err := a.policy.RecordAppliedTick(ctx, sp.AgentName); err != nil {
		a.obs.Logger.Warn("failed to record adaptation tick", "agent", sp.AgentName, "error", err)
	}

	a.dispatch(ctx, events.PreferenceAutoApplied{
		AgentName: sp.AgentName, AttemptID: id, Category: sp.Category, Key: sp.Key, NewValue: sp.SuggestedValue,
	})
	return ProcessResult{Outcome: OutcomeApplied, AttemptID: id}, nil
}

// Rollback undoes a previously applied attempt, restoring PreviousValue
// when one was recorded and falling back to the registry default
// otherwise. Re-invoking Rollback on an already-rolled-back attempt is a
// no-op returning success, matching the idempotent restore shape spec §4.E
// requires for operator retries.
func (a *AttemptService) Rollback(ctx context.Context, attemptID, reason string) error {
	attempt, err := a.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("load attempt %s: %w", attemptID, err)
	}
	errs.Invariant(attempt.Result == store.AttemptApplied || attempt.RolledBack,
		"rollback requested for attempt %s with result %s (only applied attempts can be rolled back)", attemptID, attempt.Result)

	if attempt.RolledBack {
		return nil
	}

	restoreValue := attempt.PreviousValue
	if restoreValue == nil {
		if def, ok := a.registry.GetDefaultValue(attempt.Category, attempt.Key, attempt.AgentName); ok {
			restoreValue = def
		}
	}

	profile, err := a.profiles.GetProfile(ctx, attempt.AgentName)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", attempt.AgentName, err)
	}
	current, _ := profile.Pref(attempt.Category, attempt.Key)

	if err := a.profiles.UpsertPreference(ctx, attempt.AgentName, store.UserPreference{
		Category: attempt.Category, Key: attempt.Key, Value: restoreValue,
		Source: "rollback", LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("restore preference: %w", err)
	}
	if err := a.profiles.AppendChange(ctx, attempt.AgentName, store.PreferenceChange{
		AgentName: attempt.AgentName, Category: attempt.Category, Key: attempt.Key,
		OldValue: current.Value, NewValue: restoreValue, Source: "rollback", ChangedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("record rollback change: %w", err)
	}

	now := time.Now()
	attempt.RolledBack = true
	attempt.RolledBackAt = &now
	attempt.RollbackReason = reason
	if err := a.attempts.UpdateAttempt(ctx, *attempt); err != nil {
		return fmt.Errorf("mark attempt rolled back: %w", err)
	}

	a.dispatch(ctx, events.PreferenceRolledBack{
		AgentName: attempt.AgentName, AttemptID: attempt.ID,
		Category: attempt.Category, Key: attempt.Key, Reason: reason,
	})
	return nil
}
