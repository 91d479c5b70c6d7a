// Package proposal implements Agent Action Proposal submission and
// Conflict Detection (spec §4.F): persist-then-dispatch for individual
// proposals, and target-key grouping to surface conflicts between
// concurrently proposed actions. Grounded on the teacher's
// internal/approval/queue.go Submit method, which persists the aggregate
// to its store before emitting a notification — the same ordering this
// package uses for ProposalSubmitted and AgentConflictDetected.
package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/invariant"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/store"
)

// SubmitInput is the payload of submitProposal.
type SubmitInput struct {
	AgentName          string
	ActionType         string
	TargetRef          store.TargetRef
	ProposedValue      interface{}
	ConfidenceScore    float64
	CostEstimate       float64
	RiskLevel          store.RiskLevel
	OriginatingEventID string
	SuggestionID       string
}

// AgentProposalService implements submitProposal.
type AgentProposalService struct {
	proposals store.ProposalStore
	bus       *eventbus.Bus
	obs       *obs.Context
}

// NewAgentProposalService builds an AgentProposalService.
func NewAgentProposalService(proposals store.ProposalStore, bus *eventbus.Bus, observability *obs.Context) *AgentProposalService {
	if observability == nil {
		observability = obs.Null()
	}
	return &AgentProposalService{proposals: proposals, bus: bus, obs: observability.With("proposal.AgentProposalService")}
}

func dispatch(ctx context.Context, bus *eventbus.Bus, logger interface {
	Warn(msg string, args ...interface{})
}, ev eventbus.Event) {
	if bus == nil {
		return
	}
	if err := bus.Dispatch(ctx, ev); err != nil {
		logger.Warn("event dispatch failed", "event_type", ev.EventType(), "error", err)
	}
}

// SubmitProposal persists a pending AgentActionProposal and emits
// ProposalSubmitted.
func (s *AgentProposalService) SubmitProposal(ctx context.Context, in SubmitInput) (*store.AgentActionProposal, error) {
	p := store.AgentActionProposal{
		ID:                 uuid.NewString(),
		AgentName:          in.AgentName,
		ActionType:         in.ActionType,
		TargetRef:          in.TargetRef,
		ProposedValue:      in.ProposedValue,
		ConfidenceScore:    in.ConfidenceScore,
		CostEstimate:       in.CostEstimate,
		RiskLevel:          in.RiskLevel,
		OriginatingEventID: in.OriginatingEventID,
		SuggestionID:       in.SuggestionID,
		Status:             store.ProposalPending,
		CreatedAt:          time.Now(),
	}
	if err := s.proposals.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("persist proposal: %w", err)
	}

	dispatch(ctx, s.bus, s.obs.Logger.Warn, events.ProposalSubmitted{
		ProposalID: p.ID, AgentName: p.AgentName,
		TargetType: p.TargetRef.Type, TargetID: p.TargetRef.ID, TargetKey: p.TargetRef.GroupKey(),
		CreatedAt: p.CreatedAt,
	})
	return &p, nil
}

// ConflictDetectionService implements detectConflicts.
type ConflictDetectionService struct {
	proposals store.ProposalStore
	conflicts store.ConflictStore
	bus       *eventbus.Bus
	obs       *obs.Context

	invariants InvariantChecker
}

// InvariantChecker evaluates a single proposal against process-wide hard
// invariants; *invariant.Engine satisfies this.
type InvariantChecker interface {
	Check(p store.AgentActionProposal) ([]invariant.Violation, error)
}

// WithInvariants attaches an InvariantChecker so DetectConflicts also
// classifies single proposals that violate a hard invariant as
// invariant_violation conflicts (spec §3 Conflict.conflictType), in
// addition to its default same_target/mutually_exclusive pairwise
// classification. Optional: a ConflictDetectionService without one never
// produces invariant_violation conflicts.
func (c *ConflictDetectionService) WithInvariants(checker InvariantChecker) *ConflictDetectionService {
	c.invariants = checker
	return c
}

// NewConflictDetectionService builds a ConflictDetectionService.
func NewConflictDetectionService(proposals store.ProposalStore, conflicts store.ConflictStore, bus *eventbus.Bus, observability *obs.Context) *ConflictDetectionService {
	if observability == nil {
		observability = obs.Null()
	}
	return &ConflictDetectionService{proposals: proposals, conflicts: conflicts, bus: bus, obs: observability.With("proposal.ConflictDetectionService")}
}

// canonicalize produces a stable hash of v for cross-proposal value
// comparison. json.Marshal sorts map keys, so two structurally equal
// values (including nested maps/slices) hash identically regardless of
// field insertion order — this is what distinguishes "same_target" from
// "mutually_exclusive" in spec §4.F.
func canonicalize(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DetectConflicts groups all pending proposals by target key and
// persists a Conflict for every group of size 2 or more, classifying it
// same_target (identical proposed values) or mutually_exclusive
// (diverging values) by deep JSON canonicalization. If an InvariantChecker
// is attached via WithInvariants, every pending proposal (including
// groups of one) is additionally checked against hard invariants and,
// on a hit, persisted as its own invariant_violation conflict. Returns
// the newly created conflicts.
func (c *ConflictDetectionService) DetectConflicts(ctx context.Context) ([]store.Conflict, error) {
	pending, err := c.proposals.ListProposals(ctx, "", store.ProposalPending, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list pending proposals: %w", err)
	}

	groups := make(map[string][]store.AgentActionProposal)
	var order []string
	for _, p := range pending {
		key := p.TargetRef.GroupKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}
	sort.Strings(order)

	var created []store.Conflict

	if c.invariants != nil {
		for _, p := range pending {
			violations, err := c.invariants.Check(p)
			if err != nil {
				return nil, fmt.Errorf("check invariants for proposal %s: %w", p.ID, err)
			}
			if len(violations) == 0 {
				continue
			}
			descriptions := make([]string, len(violations))
			for i, v := range violations {
				descriptions[i] = v.Description
			}
			conflict := store.Conflict{
				ID:           uuid.NewString(),
				ProposalIDs:  []string{p.ID},
				ConflictType: store.ConflictInvariantViolation,
				Target:       p.TargetRef.GroupKey(),
				Description:  strings.Join(descriptions, "; "),
			}
			if err := c.conflicts.CreateConflict(ctx, conflict); err != nil {
				return nil, fmt.Errorf("persist invariant_violation conflict for proposal %s: %w", p.ID, err)
			}
			dispatch(ctx, c.bus, c.obs.Logger.Warn, events.AgentConflictDetected{
				ConflictID: conflict.ID, ProposalIDs: conflict.ProposalIDs,
				ConflictType: string(store.ConflictInvariantViolation), Target: conflict.Target,
			})
			created = append(created, conflict)
		}
	}
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		mutuallyExclusive := false
		var firstHash string
		for i, p := range group {
			hash, err := canonicalize(p.ProposedValue)
			if err != nil {
				return nil, fmt.Errorf("canonicalize proposed value for %s: %w", p.ID, err)
			}
			if i == 0 {
				firstHash = hash
				continue
			}
			if hash != firstHash {
				mutuallyExclusive = true
			}
		}

		conflictType := store.ConflictSameTarget
		if mutuallyExclusive {
			conflictType = store.ConflictMutuallyExclusive
		}

		ids := make([]string, len(group))
		for i, p := range group {
			ids[i] = p.ID
		}

		conflict := store.Conflict{
			ID:           uuid.NewString(),
			ProposalIDs:  ids,
			ConflictType: conflictType,
			Target:       key,
		}
		if err := c.conflicts.CreateConflict(ctx, conflict); err != nil {
			return nil, fmt.Errorf("persist conflict for target %s: %w", key, err)
		}
		dispatch(ctx, c.bus, c.obs.Logger.Warn, events.AgentConflictDetected{
			ConflictID: conflict.ID, ProposalIDs: ids,
			ConflictType: string(conflictType), Target: key,
		})
		created = append(created, conflict)
	}

	return created, nil
}
