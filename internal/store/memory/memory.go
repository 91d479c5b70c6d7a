// Package memory implements store.Store entirely in-process, guarded by a
// single mutex per the teacher's approval.Queue convention (lock around the
// whole map, copy out before releasing). It is the default backend for
// tests and for single-node deployments that opt out of SQLite (spec §2.B).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/prefctl/prefctl/internal/store"
)

// Store is a thread-safe in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	profiles map[string]*store.AgentLearningProfile

	suggestions map[string]store.SuggestedPreference

	decisions map[string]store.DecisionRecord
	decOrder  []string

	agentPolicies map[string]store.AgentPolicy

	adaptationPolicies map[string]store.AdaptationPolicy

	attempts     map[string]store.AutoAdaptationAttempt
	attemptOrder []string

	proposals     map[string]store.AgentActionProposal
	proposalOrder []string

	conflicts map[string]store.Conflict

	arbitrationPolicies map[string]store.ArbitrationPolicy

	arbitrationDecisions map[string]store.ArbitrationDecision
	arbDecOrder          []string

	idempotency map[string]store.IdempotencyRecord
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		profiles:             make(map[string]*store.AgentLearningProfile),
		suggestions:          make(map[string]store.SuggestedPreference),
		decisions:            make(map[string]store.DecisionRecord),
		agentPolicies:        make(map[string]store.AgentPolicy),
		adaptationPolicies:   make(map[string]store.AdaptationPolicy),
		attempts:             make(map[string]store.AutoAdaptationAttempt),
		proposals:            make(map[string]store.AgentActionProposal),
		conflicts:            make(map[string]store.Conflict),
		arbitrationPolicies:  make(map[string]store.ArbitrationPolicy),
		arbitrationDecisions: make(map[string]store.ArbitrationDecision),
		idempotency:          make(map[string]store.IdempotencyRecord),
	}
}

var _ store.Store = (*Store)(nil)

// --- ProfileStore ---

func (s *Store) GetProfile(ctx context.Context, agentName string) (*store.AgentLearningProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[agentName]
	if !ok {
		p = &store.AgentLearningProfile{AgentName: agentName}
		s.profiles[agentName] = p
	}
	cp := *p
	cp.Preferences = append([]store.UserPreference(nil), p.Preferences...)
	cp.Feedback = append([]store.FeedbackEntry(nil), p.Feedback...)
	cp.Suggestions = append([]store.SuggestedPreference(nil), p.Suggestions...)
	cp.Changes = append([]store.PreferenceChange(nil), p.Changes...)
	return &cp, nil
}

func (s *Store) profile(agentName string) *store.AgentLearningProfile {
	p, ok := s.profiles[agentName]
	if !ok {
		p = &store.AgentLearningProfile{AgentName: agentName}
		s.profiles[agentName] = p
	}
	return p
}

func (s *Store) UpsertPreference(ctx context.Context, agentName string, pref store.UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile(agentName)
	for i, up := range p.Preferences {
		if up.Category == pref.Category && up.Key == pref.Key {
			p.Preferences[i] = pref
			return nil
		}
	}
	p.Preferences = append(p.Preferences, pref)
	return nil
}

func (s *Store) AppendFeedback(ctx context.Context, agentName string, fb store.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile(agentName)
	p.Feedback = append(p.Feedback, fb)
	p.TotalFeedbackReceived++
	accepted := 0
	for _, f := range p.Feedback {
		if f.UserAccepted {
			accepted++
		}
	}
	p.OverallAcceptanceRate = float64(accepted) / float64(len(p.Feedback))
	return nil
}

func (s *Store) AppendChange(ctx context.Context, agentName string, change store.PreferenceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile(agentName)
	p.Changes = append(p.Changes, change)
	return nil
}

func (s *Store) ListChanges(ctx context.Context, agentName, category, key string) ([]store.PreferenceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentName]
	if !ok {
		return nil, nil
	}
	out := make([]store.PreferenceChange, 0, len(p.Changes))
	for _, c := range p.Changes {
		if (category == "" || c.Category == category) && (key == "" || c.Key == key) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListAgentNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- SuggestionStore ---

func (s *Store) CreateSuggestion(ctx context.Context, sp store.SuggestedPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions[sp.SuggestionID] = sp
	return nil
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*store.SuggestedPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.suggestions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sp, nil
}

func (s *Store) UpdateSuggestion(ctx context.Context, sp store.SuggestedPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suggestions[sp.SuggestionID]; !ok {
		return store.ErrNotFound
	}
	s.suggestions[sp.SuggestionID] = sp
	return nil
}

func (s *Store) ListSuggestions(ctx context.Context, agentName string, status store.SuggestionStatus) ([]store.SuggestedPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SuggestedPreference, 0)
	for _, sp := range s.suggestions {
		if agentName != "" && sp.AgentName != agentName {
			continue
		}
		if status != "" && sp.Status != status {
			continue
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuggestedAt.Before(out[j].SuggestedAt) })
	return out, nil
}

// --- DecisionStore ---

func (s *Store) CreateDecision(ctx context.Context, d store.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = d
	s.decOrder = append(s.decOrder, d.ID)
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (*store.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) UpdateOutcome(ctx context.Context, id string, outcome store.DecisionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Outcome = &outcome
	s.decisions[id] = d
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, agentName string, limit, offset int) ([]store.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.DecisionRecord, 0)
	for i := len(s.decOrder) - 1; i >= 0; i-- {
		d := s.decisions[s.decOrder[i]]
		if agentName != "" && d.AgentName != agentName {
			continue
		}
		out = append(out, d)
	}
	return paginate(out, limit, offset), nil
}

// --- AgentPolicyStore ---

func (s *Store) GetAgentPolicy(ctx context.Context, agentName string) (*store.AgentPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.agentPolicies[agentName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) PutAgentPolicy(ctx context.Context, p store.AgentPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentPolicies[p.AgentName] = p
	return nil
}

// --- AdaptationPolicyStore ---

func (s *Store) GetAdaptationPolicy(ctx context.Context, id string) (*store.AdaptationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.adaptationPolicies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetAdaptationPolicyForAgent(ctx context.Context, agentName string) (*store.AdaptationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.adaptationPolicies {
		if p.AgentName == agentName {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) PutAdaptationPolicy(ctx context.Context, p store.AdaptationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptationPolicies[p.ID] = p
	return nil
}

func (s *Store) ListAdaptationPolicies(ctx context.Context) ([]store.AdaptationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AdaptationPolicy, 0, len(s.adaptationPolicies))
	for _, p := range s.adaptationPolicies {
		out = append(out, p)
	}
	return out, nil
}

// --- AttemptStore ---

func (s *Store) CreateAttempt(ctx context.Context, a store.AutoAdaptationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
	s.attemptOrder = append(s.attemptOrder, a.ID)
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*store.AutoAdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, a store.AutoAdaptationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; !ok {
		return store.ErrNotFound
	}
	s.attempts[a.ID] = a
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, agentName string, limit, offset int) ([]store.AutoAdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AutoAdaptationAttempt, 0)
	for i := len(s.attemptOrder) - 1; i >= 0; i-- {
		a := s.attempts[s.attemptOrder[i]]
		if agentName != "" && a.AgentName != agentName {
			continue
		}
		out = append(out, a)
	}
	return paginate(out, limit, offset), nil
}

func (s *Store) ListAttemptsSince(ctx context.Context, agentName string, sinceUnixMs int64) ([]store.AutoAdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AutoAdaptationAttempt, 0)
	for _, a := range s.attempts {
		if a.AgentName != agentName {
			continue
		}
		if a.Timestamp.UnixMilli() >= sinceUnixMs {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- ProposalStore ---

func (s *Store) CreateProposal(ctx context.Context, p store.AgentActionProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	s.proposalOrder = append(s.proposalOrder, p.ID)
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*store.AgentActionProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpdateProposal(ctx context.Context, p store.AgentActionProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.proposals[p.ID] = p
	return nil
}

func (s *Store) ListPendingByTarget(ctx context.Context, targetKey string) ([]store.AgentActionProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AgentActionProposal, 0)
	for _, p := range s.proposals {
		if p.Status == store.ProposalPending && p.TargetRef.GroupKey() == targetKey {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListProposals(ctx context.Context, agentName string, status store.ProposalStatus, limit, offset int) ([]store.AgentActionProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AgentActionProposal, 0)
	for i := len(s.proposalOrder) - 1; i >= 0; i-- {
		p := s.proposals[s.proposalOrder[i]]
		if agentName != "" && p.AgentName != agentName {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	return paginate(out, limit, offset), nil
}

// --- ConflictStore ---

func (s *Store) CreateConflict(ctx context.Context, c store.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[c.ID] = c
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*store.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) UpdateConflict(ctx context.Context, c store.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return store.ErrNotFound
	}
	s.conflicts[c.ID] = c
	return nil
}

func (s *Store) ListUnresolved(ctx context.Context) ([]store.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Conflict, 0)
	for _, c := range s.conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- ArbitrationPolicyStore ---

func (s *Store) GetArbitrationPolicy(ctx context.Context, id string) (*store.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.arbitrationPolicies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) PutArbitrationPolicy(ctx context.Context, p store.ArbitrationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrationPolicies[p.ID] = p
	return nil
}

func (s *Store) ListArbitrationPolicies(ctx context.Context) ([]store.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ArbitrationPolicy, 0, len(s.arbitrationPolicies))
	for _, p := range s.arbitrationPolicies {
		out = append(out, p)
	}
	return out, nil
}

// ResolvePolicy picks the most specific applicable policy: preference scope
// first, then agent scope (for any of agentNames), then the global default.
func (s *Store) ResolvePolicy(ctx context.Context, agentNames []string, preferenceKey string) (*store.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if preferenceKey != "" {
		for _, p := range s.arbitrationPolicies {
			if p.Scope == store.ScopePreference && p.ScopePreferenceKey == preferenceKey {
				cp := p
				return &cp, nil
			}
		}
	}
	for _, name := range agentNames {
		for _, p := range s.arbitrationPolicies {
			if p.Scope == store.ScopeAgent && p.ScopeAgentName == name {
				cp := p
				return &cp, nil
			}
		}
	}
	for _, p := range s.arbitrationPolicies {
		if p.Scope == store.ScopeGlobal && p.IsDefault {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- ArbitrationDecisionStore ---

func (s *Store) CreateArbitrationDecision(ctx context.Context, d store.ArbitrationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrationDecisions[d.ID] = d
	s.arbDecOrder = append(s.arbDecOrder, d.ID)
	return nil
}

func (s *Store) GetArbitrationDecision(ctx context.Context, id string) (*store.ArbitrationDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.arbitrationDecisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) UpdateArbitrationDecision(ctx context.Context, d store.ArbitrationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.arbitrationDecisions[d.ID]; !ok {
		return store.ErrNotFound
	}
	s.arbitrationDecisions[d.ID] = d
	return nil
}

func (s *Store) ListArbitrationDecisions(ctx context.Context, limit, offset int) ([]store.ArbitrationDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ArbitrationDecision, 0)
	for i := len(s.arbDecOrder) - 1; i >= 0; i-- {
		out = append(out, s.arbitrationDecisions[s.arbDecOrder[i]])
	}
	return paginate(out, limit, offset), nil
}

// --- IdempotencyStore ---

func (s *Store) Get(ctx context.Context, key string) (*store.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.idempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) Begin(ctx context.Context, key string) (*store.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.idempotency[key]; ok {
		return &r, false, nil
	}
	s.idempotency[key] = store.IdempotencyRecord{Key: key, InProgress: true}
	return nil, true, nil
}

func (s *Store) Complete(ctx context.Context, rec store.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.InProgress = false
	s.idempotency[rec.Key] = rec
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
