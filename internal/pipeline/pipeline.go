// Package pipeline wires the governed multi-agent proposal flow end to
// end: an agents.Event dispatched to its agent kind, each resulting
// proposal explained via governed generation and submitted, every
// submission re-triggering conflict detection, and every detected
// conflict arbitrated immediately. Grounded on notify.Subscribe's
// bridge-a-manager-onto-the-bus shape, generalized from one fan-out
// target to a chain of three.
package pipeline

import (
	"context"
	"fmt"

	"github.com/prefctl/prefctl/internal/agents"
	"github.com/prefctl/prefctl/internal/arbitration"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/proposal"
	"github.com/prefctl/prefctl/internal/store"
)

// explanationTemplate renders a short rationale for a proposal from the
// originating agent's own fallback copy when AI generation is disabled
// or unavailable.
var explanationTemplate = governance.Template{
	Name:           "proposal_explanation",
	Body:           "{{.agentName}} proposes {{.actionType}} on {{.target}} (confidence {{.confidence}}).",
	RequiredFields: []string{"agentName", "actionType", "target", "confidence"},
}

// Coordinator drives agents.Registry.Dispatch -> governance explanation
// -> proposal.AgentProposalService.SubmitProposal -> (via bus subscription)
// proposal.ConflictDetectionService.DetectConflicts ->
// arbitration.Engine.Resolve, so the four are exercised by one real call
// path instead of sitting wired but idle.
type Coordinator struct {
	agentRegistry *agents.Registry
	governance    *governance.Engine
	proposals     *proposal.AgentProposalService
	conflicts     *proposal.ConflictDetectionService
	arbiter       *arbitration.Engine
	conflictStore store.ConflictStore
	proposalStore store.ProposalStore
	obs           *obs.Context
}

// New builds a Coordinator.
func New(
	agentRegistry *agents.Registry,
	gov *governance.Engine,
	proposals *proposal.AgentProposalService,
	conflicts *proposal.ConflictDetectionService,
	arbiter *arbitration.Engine,
	conflictStore store.ConflictStore,
	proposalStore store.ProposalStore,
	observability *obs.Context,
) *Coordinator {
	if observability == nil {
		observability = obs.Null()
	}
	return &Coordinator{
		agentRegistry: agentRegistry, governance: gov, proposals: proposals, conflicts: conflicts,
		arbiter: arbiter, conflictStore: conflictStore, proposalStore: proposalStore,
		obs: observability.With("pipeline.Coordinator"),
	}
}

// Subscribe wires the conflict-detection and arbitration stages onto bus.
// Every ProposalSubmitted re-runs DetectConflicts across all pending
// proposals, and every AgentConflictDetected it turns up is resolved
// immediately. TriggerAgent (the dispatch -> explain -> submit stage) is
// invoked directly by whatever produced the triggering agents.Event,
// rather than subscribed here, since it needs a Kind the bus does not
// carry.
func (c *Coordinator) Subscribe(bus *eventbus.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.TypeProposalSubmitted, func(ctx context.Context, _ eventbus.Event) error {
		if _, err := c.conflicts.DetectConflicts(ctx); err != nil {
			c.obs.Logger.Error("conflict detection failed", "error", err)
			return err
		}
		return nil
	})
	bus.Subscribe(events.TypeAgentConflictDetected, func(ctx context.Context, ev eventbus.Event) error {
		return c.resolve(ctx, ev.(events.AgentConflictDetected))
	})
}

func (c *Coordinator) resolve(ctx context.Context, e events.AgentConflictDetected) error {
	conflict, err := c.conflictStore.GetConflict(ctx, e.ConflictID)
	if err != nil {
		return fmt.Errorf("load conflict %s: %w", e.ConflictID, err)
	}
	proposals := make([]store.AgentActionProposal, 0, len(conflict.ProposalIDs))
	for _, id := range conflict.ProposalIDs {
		p, err := c.proposalStore.GetProposal(ctx, id)
		if err != nil {
			return fmt.Errorf("load proposal %s: %w", id, err)
		}
		proposals = append(proposals, *p)
	}
	if _, err := c.arbiter.Resolve(ctx, *conflict, proposals); err != nil {
		c.obs.Logger.Error("arbitration failed", "conflict_id", conflict.ID, "error", err)
		return err
	}
	return nil
}

// TriggerAgent dispatches ev to kind's Agent, generates a governed
// explanation for each resulting proposal (falling back to the agent's
// own rule-based copy when AI generation is disabled, unavailable, or
// low-confidence), and submits it. Submission dispatches
// ProposalSubmitted, which Subscribe's handler turns into a
// conflict-detection pass and, if a conflict results, an arbitration
// pass — all synchronously within this call. Returns the submitted
// proposals, which is empty (not an error) when the agent's decision
// logic produced nothing for ev.
func (c *Coordinator) TriggerAgent(ctx context.Context, kind agents.Kind, ev agents.Event) ([]store.AgentActionProposal, error) {
	inputs, err := c.agentRegistry.Dispatch(ctx, kind, ev)
	if err != nil {
		return nil, fmt.Errorf("dispatch to agent %s: %w", kind, err)
	}

	fallback, _ := c.agentRegistry.FallbackFor(kind)
	submitted := make([]store.AgentActionProposal, 0, len(inputs))
	for _, in := range inputs {
		genCtx := map[string]interface{}{
			"agentName": in.AgentName, "actionType": in.ActionType,
			"target": in.TargetRef.GroupKey(), "confidence": in.ConfidenceScore,
		}
		_, _, err := c.governance.GenerateWithDecisionRecord(ctx, governance.GenerateOpts{
			AgentName: in.AgentName, Template: explanationTemplate, Context: genCtx, Fallback: fallback,
			TriggeringEventType: "agent_event", TriggeringEventID: ev.EventID,
			AggregateType: in.TargetRef.Type, AggregateID: in.TargetRef.ID, DecisionType: "proposal_explanation",
		})
		if err != nil {
			c.obs.Logger.Warn("governed explanation failed, submitting proposal without one",
				"agent", in.AgentName, "error", err)
		}

		p, err := c.proposals.SubmitProposal(ctx, proposal.SubmitInput{
			AgentName: in.AgentName, ActionType: in.ActionType, TargetRef: in.TargetRef,
			ProposedValue: in.ProposedValue, ConfidenceScore: in.ConfidenceScore, CostEstimate: in.CostEstimate,
			RiskLevel: in.RiskLevel, OriginatingEventID: in.OriginatingEventID, SuggestionID: in.SuggestionID,
		})
		if err != nil {
			return submitted, fmt.Errorf("submit proposal for agent %s: %w", in.AgentName, err)
		}
		submitted = append(submitted, *p)
	}
	return submitted, nil
}
