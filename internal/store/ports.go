package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every repository when a lookup by ID misses.
// Services translate it into errs.CodeNotFound / errs.CodeDecisionNotFound.
var ErrNotFound = errors.New("store: not found")

// ProfileStore owns the Agent Learning Profile aggregate: preferences,
// feedback history, suggestions and the preference change audit trail.
// Grounded on the teacher's internal/trace/store.go interface-per-aggregate
// shape.
type ProfileStore interface {
	GetProfile(ctx context.Context, agentName string) (*AgentLearningProfile, error)
	UpsertPreference(ctx context.Context, agentName string, pref UserPreference) error
	AppendFeedback(ctx context.Context, agentName string, fb FeedbackEntry) error
	AppendChange(ctx context.Context, agentName string, change PreferenceChange) error
	ListChanges(ctx context.Context, agentName, category, key string) ([]PreferenceChange, error)
	// ListAgentNames returns every agent with a materialized profile, sorted
	// for deterministic projection output (spec §8 projection purity).
	ListAgentNames(ctx context.Context) ([]string, error)
}

// SuggestionStore owns SuggestedPreference records.
type SuggestionStore interface {
	CreateSuggestion(ctx context.Context, s SuggestedPreference) error
	GetSuggestion(ctx context.Context, id string) (*SuggestedPreference, error)
	UpdateSuggestion(ctx context.Context, s SuggestedPreference) error
	ListSuggestions(ctx context.Context, agentName string, status SuggestionStatus) ([]SuggestedPreference, error)
}

// DecisionStore owns Decision Records — the append-mostly audit trail of
// every reasoned output in the system (spec §3, §9).
type DecisionStore interface {
	CreateDecision(ctx context.Context, d DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*DecisionRecord, error)
	UpdateOutcome(ctx context.Context, id string, outcome DecisionOutcome) error
	ListDecisions(ctx context.Context, agentName string, limit, offset int) ([]DecisionRecord, error)
}

// AgentPolicyStore owns per-agent governance policy (spec §4.B).
type AgentPolicyStore interface {
	GetAgentPolicy(ctx context.Context, agentName string) (*AgentPolicy, error)
	PutAgentPolicy(ctx context.Context, p AgentPolicy) error
}

// AdaptationPolicyStore owns Adaptation Policy aggregates, one per
// (agentName, category, key) scope or per-agent default.
type AdaptationPolicyStore interface {
	GetAdaptationPolicy(ctx context.Context, id string) (*AdaptationPolicy, error)
	GetAdaptationPolicyForAgent(ctx context.Context, agentName string) (*AdaptationPolicy, error)
	PutAdaptationPolicy(ctx context.Context, p AdaptationPolicy) error
	ListAdaptationPolicies(ctx context.Context) ([]AdaptationPolicy, error)
}

// AttemptStore owns Auto-Adaptation Attempt records.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a AutoAdaptationAttempt) error
	GetAttempt(ctx context.Context, id string) (*AutoAdaptationAttempt, error)
	UpdateAttempt(ctx context.Context, a AutoAdaptationAttempt) error
	ListAttempts(ctx context.Context, agentName string, limit, offset int) ([]AutoAdaptationAttempt, error)
	ListAttemptsSince(ctx context.Context, agentName string, sinceUnixMs int64) ([]AutoAdaptationAttempt, error)
}

// ProposalStore owns Agent Action Proposal aggregates.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p AgentActionProposal) error
	GetProposal(ctx context.Context, id string) (*AgentActionProposal, error)
	UpdateProposal(ctx context.Context, p AgentActionProposal) error
	ListPendingByTarget(ctx context.Context, targetKey string) ([]AgentActionProposal, error)
	ListProposals(ctx context.Context, agentName string, status ProposalStatus, limit, offset int) ([]AgentActionProposal, error)
}

// ConflictStore owns Conflict aggregates.
type ConflictStore interface {
	CreateConflict(ctx context.Context, c Conflict) error
	GetConflict(ctx context.Context, id string) (*Conflict, error)
	UpdateConflict(ctx context.Context, c Conflict) error
	ListUnresolved(ctx context.Context) ([]Conflict, error)
}

// ArbitrationPolicyStore owns Arbitration Policy aggregates.
type ArbitrationPolicyStore interface {
	GetArbitrationPolicy(ctx context.Context, id string) (*ArbitrationPolicy, error)
	PutArbitrationPolicy(ctx context.Context, p ArbitrationPolicy) error
	ListArbitrationPolicies(ctx context.Context) ([]ArbitrationPolicy, error)
	// ResolvePolicy returns the most specific applicable policy for a
	// conflict: preference scope, then agent scope, then global default.
	ResolvePolicy(ctx context.Context, agentNames []string, preferenceKey string) (*ArbitrationPolicy, error)
}

// ArbitrationDecisionStore owns Arbitration Decision records.
type ArbitrationDecisionStore interface {
	CreateArbitrationDecision(ctx context.Context, d ArbitrationDecision) error
	GetArbitrationDecision(ctx context.Context, id string) (*ArbitrationDecision, error)
	UpdateArbitrationDecision(ctx context.Context, d ArbitrationDecision) error
	ListArbitrationDecisions(ctx context.Context, limit, offset int) ([]ArbitrationDecision, error)
}

// IdempotencyStore owns idempotency records for the admin control plane's
// mutation routes (spec §6).
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Begin atomically claims key as in-progress, returning (nil, true) if
	// this caller won the race, or the existing record and false otherwise.
	Begin(ctx context.Context, key string) (*IdempotencyRecord, bool, error)
	Complete(ctx context.Context, rec IdempotencyRecord) error
}

// Store is the aggregate repository surface a component depends on; most
// services only need one or two of the embedded interfaces but the
// composition keeps constructor signatures short, matching the teacher's
// single *SQLiteStore threaded through every internal/trace consumer.
type Store interface {
	ProfileStore
	SuggestionStore
	DecisionStore
	AgentPolicyStore
	AdaptationPolicyStore
	AttemptStore
	ProposalStore
	ConflictStore
	ArbitrationPolicyStore
	ArbitrationDecisionStore
	IdempotencyStore
}
