// Package approval implements the escalation-resolution and rollback
// halves of spec §4.I (the suggestion approve/reject half lives in
// internal/suggestion, next to the aggregate it mutates): resolving an
// escalated arbitration decision that is awaiting human review, and
// unwinding an applied preference mutation by its origin. Grounded on
// the teacher's internal/approval/queue.go Resolve method (status-gated
// transition, persist, notify) and internal/evolution/rollback.go
// (restore-to-prior shape, idempotent retries).
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/store"
)

func dispatch(ctx context.Context, bus *eventbus.Bus, o *obs.Context, ev eventbus.Event) {
	if bus == nil {
		return
	}
	if err := bus.Dispatch(ctx, ev); err != nil {
		o.Logger.Warn("event dispatch failed", "event_type", ev.EventType(), "error", err)
	}
}

// EscalationApprovalService resolves an escalated ArbitrationDecision that
// is awaiting human review.
type EscalationApprovalService struct {
	decisions store.ArbitrationDecisionStore
	proposals store.ProposalStore
	conflicts store.ConflictStore
	profiles  store.ProfileStore
	bus       *eventbus.Bus
	obs       *obs.Context
}

// NewEscalationApprovalService builds an EscalationApprovalService.
func NewEscalationApprovalService(decisions store.ArbitrationDecisionStore, proposals store.ProposalStore, conflicts store.ConflictStore, profiles store.ProfileStore, bus *eventbus.Bus, observability *obs.Context) *EscalationApprovalService {
	if observability == nil {
		observability = obs.Null()
	}
	return &EscalationApprovalService{decisions: decisions, proposals: proposals, conflicts: conflicts, profiles: profiles, bus: bus, obs: observability.With("approval.EscalationApprovalService")}
}

// ApproveEscalatedDecision resolves an escalated decision: marks it
// executed, transitions the selected proposal (selectedProposalID if
// given, else the decision's own suggested proposal) to approved, every
// other escalated proposal to suppressed, and applies the selected
// proposal if it targets a preference. Only operates on decisions with
// outcome=escalated && !executed (spec §4.I).
func (s *EscalationApprovalService) ApproveEscalatedDecision(ctx context.Context, decisionID, approvedBy, selectedProposalID string) error {
	d, err := s.decisions.GetArbitrationDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("load arbitration decision %s: %w", decisionID, err)
	}
	if d.Outcome != store.OutcomeEscalated || d.Executed {
		return errs.Newf(errs.CodeIllegalTransition, "decision %s is not an unexecuted escalation (outcome=%s executed=%v)", decisionID, d.Outcome, d.Executed)
	}

	escalated, err := s.proposals.ListProposals(ctx, "", store.ProposalEscalated, 0, 0)
	if err != nil {
		return fmt.Errorf("list escalated proposals: %w", err)
	}
	var group []store.AgentActionProposal
	for _, p := range escalated {
		if p.DecisionID == decisionID {
			group = append(group, p)
		}
	}
	if len(group) == 0 {
		return errs.Newf(errs.CodeConflict, "no escalated proposals remain for decision %s", decisionID)
	}

	selected := selectedProposalID
	if selected == "" {
		selected = d.SelectedProposalID
	}
	errs.Invariant(selected != "", "approving escalated decision %s requires a selected proposal id", decisionID)

	var winner *store.AgentActionProposal
	for i := range group {
		p := &group[i]
		if p.ID == selected {
			winner = p
			continue
		}
		p.Status = store.ProposalSuppressed
		if err := s.proposals.UpdateProposal(ctx, *p); err != nil {
			return fmt.Errorf("suppress proposal %s: %w", p.ID, err)
		}
	}
	if winner == nil {
		return errs.Newf(errs.CodeConflict, "selected proposal %s is not part of decision %s", selected, decisionID)
	}
	winner.Status = store.ProposalApproved
	if err := s.proposals.UpdateProposal(ctx, *winner); err != nil {
		return fmt.Errorf("approve selected proposal %s: %w", winner.ID, err)
	}

	if err := s.applySelectedPreference(ctx, *winner, decisionID); err != nil {
		return err
	}

	d.Executed = true
	d.ExecutedBy = approvedBy
	d.RequiresHumanApproval = false
	d.SelectedProposalID = selected
	if err := s.decisions.UpdateArbitrationDecision(ctx, *d); err != nil {
		return fmt.Errorf("mark decision executed: %w", err)
	}
	dispatch(ctx, s.bus, s.obs, events.EscalationApproved{DecisionID: decisionID, ConflictID: d.ConflictID, ApprovedBy: approvedBy, SelectedProposalID: selected})
	return nil
}

// RejectEscalatedDecision resolves an escalated decision by suppressing
// every escalated proposal and marking the decision executed without a
// winner.
func (s *EscalationApprovalService) RejectEscalatedDecision(ctx context.Context, decisionID, rejectedBy string) error {
	d, err := s.decisions.GetArbitrationDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("load arbitration decision %s: %w", decisionID, err)
	}
	if d.Outcome != store.OutcomeEscalated || d.Executed {
		return errs.Newf(errs.CodeIllegalTransition, "decision %s is not an unexecuted escalation (outcome=%s executed=%v)", decisionID, d.Outcome, d.Executed)
	}

	escalated, err := s.proposals.ListProposals(ctx, "", store.ProposalEscalated, 0, 0)
	if err != nil {
		return fmt.Errorf("list escalated proposals: %w", err)
	}
	for _, p := range escalated {
		if p.DecisionID != decisionID {
			continue
		}
		p.Status = store.ProposalSuppressed
		if err := s.proposals.UpdateProposal(ctx, p); err != nil {
			return fmt.Errorf("suppress proposal %s: %w", p.ID, err)
		}
	}

	d.Executed = true
	d.ExecutedBy = rejectedBy
	d.RequiresHumanApproval = false
	if err := s.decisions.UpdateArbitrationDecision(ctx, *d); err != nil {
		return fmt.Errorf("mark decision executed: %w", err)
	}
	dispatch(ctx, s.bus, s.obs, events.EscalationRejected{DecisionID: decisionID, ConflictID: d.ConflictID, RejectedBy: rejectedBy})
	return nil
}

func (s *EscalationApprovalService) applySelectedPreference(ctx context.Context, winner store.AgentActionProposal, decisionID string) error {
	if s.profiles == nil || winner.TargetRef.Type != "preference" {
		return nil
	}
	category, key := winner.TargetRef.ID, winner.TargetRef.Key

	profile, err := s.profiles.GetProfile(ctx, winner.AgentName)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", winner.AgentName, err)
	}
	current, _ := profile.Pref(category, key)

	if err := s.profiles.UpsertPreference(ctx, winner.AgentName, store.UserPreference{
		Category: category, Key: key, Value: winner.ProposedValue,
		Confidence: winner.ConfidenceScore, Source: "arbitration", LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("apply approved escalation proposal %s: %w", winner.ID, err)
	}
	return s.profiles.AppendChange(ctx, winner.AgentName, store.PreferenceChange{
		AgentName: winner.AgentName, Category: category, Key: key,
		OldValue: current.Value, NewValue: winner.ProposedValue,
		Source: "arbitration", DecisionID: decisionID, ChangedAt: time.Now(),
	})
}

// RollbackService unwinds applied preference mutations, by either the
// agent-owning preference or the arbitration decision that produced them.
// Grounded on the teacher's internal/evolution/rollback.go restore-to-
// prior-version shape.
type RollbackService struct {
	attemptSvc   *adaptation.AttemptService
	attemptStore store.AttemptStore
	decisions    store.ArbitrationDecisionStore
	proposals    store.ProposalStore
	profiles     store.ProfileStore
	obs          *obs.Context
}

// NewRollbackService builds a RollbackService. attemptSvc performs the
// actual rollback (so profile restoration, attempt marking and event
// emission stay centralized in adaptation.AttemptService); attemptStore is used
// only to look up the most recent applied attempt for a preference.
func NewRollbackService(attemptSvc *adaptation.AttemptService, attemptStore store.AttemptStore, decisions store.ArbitrationDecisionStore, proposals store.ProposalStore, profiles store.ProfileStore, observability *obs.Context) *RollbackService {
	if observability == nil {
		observability = obs.Null()
	}
	return &RollbackService{attemptSvc: attemptSvc, attemptStore: attemptStore, decisions: decisions, proposals: proposals, profiles: profiles, obs: observability.With("approval.RollbackService")}
}

// RollbackByPreference restores (category, key) for agentName to the
// value it held before its most recent applied auto-adaptation attempt,
// or to the registry default absent one. A no-op, returning success, if
// nothing has ever been auto-adapted for this preference (idempotent —
// spec §4.I requires every rollback path tolerate operator retries).
func (r *RollbackService) RollbackByPreference(ctx context.Context, agentName, category, key, reason string) error {
	attempts, err := r.listAttempts(ctx, agentName)
	if err != nil {
		return err
	}

	var latest *store.AutoAdaptationAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Category != category || a.Key != key || a.Result != store.AttemptApplied || a.RolledBack {
			continue
		}
		if latest == nil || a.Timestamp.After(latest.Timestamp) {
			latest = a
		}
	}
	if latest == nil {
		return nil
	}
	return r.attemptSvc.Rollback(ctx, latest.ID, reason)
}

// RollbackByDecision unwinds the preference mutation an arbitration
// decision caused, restoring the winning proposal's target (category,
// key) to the value it held immediately before the decision. A decision
// whose winner never targeted a preference, or was never applied, has
// nothing to unwind and this is a no-op; re-invoking after a successful
// rollback is also a no-op since the current value then already matches
// the recorded OldValue (spec §4.I idempotency requirement).
func (r *RollbackService) RollbackByDecision(ctx context.Context, decisionID, reason string) error {
	d, err := r.decisions.GetArbitrationDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("load arbitration decision %s: %w", decisionID, err)
	}
	if r.profiles == nil {
		return nil
	}

	appliedProposalID := d.SelectedProposalID
	if appliedProposalID == "" {
		appliedProposalID = d.WinningProposalID
	}
	if appliedProposalID == "" {
		return nil
	}

	p, err := r.proposals.GetProposal(ctx, appliedProposalID)
	if err != nil {
		return fmt.Errorf("load proposal %s: %w", appliedProposalID, err)
	}
	if p.TargetRef.Type != "preference" {
		return nil
	}
	category, key := p.TargetRef.ID, p.TargetRef.Key

	changes, err := r.profiles.ListChanges(ctx, p.AgentName, category, key)
	if err != nil {
		return fmt.Errorf("list preference changes for %s.%s: %w", category, key, err)
	}
	var mutation *store.PreferenceChange
	for i := range changes {
		if changes[i].DecisionID == decisionID && changes[i].Source == "arbitration" {
			mutation = &changes[i]
		}
	}
	if mutation == nil {
		return nil
	}

	profile, err := r.profiles.GetProfile(ctx, p.AgentName)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", p.AgentName, err)
	}
	current, _ := profile.Pref(category, key)
	if current.Value == mutation.OldValue {
		return nil
	}

	if err := r.profiles.UpsertPreference(ctx, p.AgentName, store.UserPreference{
		Category: category, Key: key, Value: mutation.OldValue,
		Source: "rollback", LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("restore %s.%s for %s: %w", category, key, p.AgentName, err)
	}
	return r.profiles.AppendChange(ctx, p.AgentName, store.PreferenceChange{
		AgentName: p.AgentName, Category: category, Key: key,
		OldValue: current.Value, NewValue: mutation.OldValue,
		Source: "rollback", DecisionID: decisionID, ChangedAt: time.Now(),
	})
}

func (r *RollbackService) listAttempts(ctx context.Context, agentName string) ([]store.AutoAdaptationAttempt, error) {
	return r.attemptStore.ListAttempts(ctx, agentName, 0, 0)
}
