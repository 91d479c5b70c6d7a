// Package agents implements the closed set of agent kinds that dispatch
// dynamically over incoming preference events: Coach, Planner, Logger.
// An Agent turns a domain event into zero or more proposal.SubmitInput
// values, the same shape proposal.AgentProposalService.SubmitProposal
// accepts, and also supplies a governance.FallbackFunc for rule-based
// content generation when AI generation is unavailable. Registry.Dispatch
// routes one incoming event to the single Agent registered for the named
// Kind, which produces zero or more outputs rather than a 1:1 mapping.
package agents

import (
	"context"
	"fmt"

	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/store"
)

// Kind names the closed set of agent kinds governance policy keys
// and priority lists reference (spec §9). A new kind requires both a
// registration here and an AgentPolicy record; it is never inferred.
type Kind string

const (
	KindCoach   Kind = "Coach"
	KindPlanner Kind = "Planner"
	KindLogger  Kind = "Logger"
)

// Known lists every Kind of the closed set, in a fixed order: Coach,
// Planner, Logger.
func Known() []Kind { return []Kind{KindCoach, KindPlanner, KindLogger} }

// Valid reports whether kind is a member of the closed set.
func Valid(kind string) bool {
	for _, k := range Known() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// ProposalInput is the shape an Agent produces; it mirrors
// proposal.SubmitInput exactly (agents does not import package proposal
// to avoid a dependency an agent's pure decision logic does not need).
type ProposalInput struct {
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

// Event is the minimal shape every agent kind reacts to: a preference
// category/key changed or a triggering signal fired for an agent's
// profile, carrying enough context for a rule-based decision.
type Event struct {
	EventID   string
	AgentName string
	Category  string
	Key       string
	Value     interface{}
	Profile   *store.AgentLearningProfile
}

// Agent is implemented by each of the three closed kinds.
type Agent interface {
	Name() Kind
	Handle(ctx context.Context, ev Event) ([]ProposalInput, error)
	Fallback(ctx context.Context, agentName string, tmpl governance.Template, genCtx map[string]interface{}) (string, error)
}

// Registry holds the closed set of Agent implementations, keyed by Kind.
type Registry struct {
	agents map[Kind]Agent
}

// NewRegistry builds the Registry wired with the three illustrative
// kinds. Unlike registry.Registry (preference schema), this set is fixed
// at compile time: spec §9 states new kinds require policy registration,
// not runtime discovery.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[Kind]Agent, 3)}
	r.register(&coachAgent{})
	r.register(&plannerAgent{})
	r.register(&loggerAgent{})
	return r
}

func (r *Registry) register(a Agent) {
	r.agents[a.Name()] = a
}

// Get returns the Agent for kind, or false if kind is not registered.
func (r *Registry) Get(kind Kind) (Agent, bool) {
	a, ok := r.agents[kind]
	return a, ok
}

// Dispatch routes ev to the named agent kind and returns its proposals.
func (r *Registry) Dispatch(ctx context.Context, kind Kind, ev Event) ([]ProposalInput, error) {
	a, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("agents: unknown kind %q", kind)
	}
	return a.Handle(ctx, ev)
}

// FallbackFor adapts the named kind's Fallback method to
// governance.FallbackFunc, for wiring into governance.GenerateOpts.
func (r *Registry) FallbackFor(kind Kind) (governance.FallbackFunc, bool) {
	a, ok := r.Get(kind)
	if !ok {
		return nil, false
	}
	return a.Fallback, true
}
