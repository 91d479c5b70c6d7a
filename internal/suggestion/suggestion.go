// Package suggestion implements Preference Suggestion & Audit (spec §4.C):
// turning an agent's accumulated feedback history into registry-validated
// SuggestedPreference records, plus the approve/reject lifecycle and the
// read-side audit helpers over an agent's preference history.
package suggestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/events"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
)

// Thresholds bound when analyzeFeedbackAndSuggest is willing to propose a
// change: a (category, key) area needs at least MinFeedback entries, and
// the inferred majority preference must clear MinConfidence.
type Thresholds struct {
	MinFeedbackForSuggestion int
	MinSuggestionConfidence  float64
}

// DefaultThresholds matches the teacher's convention of small, named
// constants rather than magic numbers scattered through the pipeline.
var DefaultThresholds = Thresholds{MinFeedbackForSuggestion: 3, MinSuggestionConfidence: 0.6}

// Service implements PreferenceSuggestionService.
type Service struct {
	profiles    store.ProfileStore
	suggestions store.SuggestionStore
	registry    *registry.Registry
	bus         *eventbus.Bus
	thresholds  Thresholds
	obs         *obs.Context
}

// New builds a suggestion Service.
func New(profiles store.ProfileStore, suggestions store.SuggestionStore, reg *registry.Registry, bus *eventbus.Bus, thresholds Thresholds, observability *obs.Context) *Service {
	if observability == nil {
		observability = obs.Null()
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Service{
		profiles:    profiles,
		suggestions: suggestions,
		registry:    reg,
		bus:         bus,
		thresholds:  thresholds,
		obs:         observability.With("suggestion.Service"),
	}
}

// feedbackArea groups the (category, key) an individual FeedbackEntry
// bears on, read from its Context map. Entries without both keys present
// are not attributable to a preference area and are skipped.
func feedbackArea(fb store.FeedbackEntry) (category, key string, preferredValue interface{}, ok bool) {
	c, ok1 := fb.Context["category"].(string)
	k, ok2 := fb.Context["key"].(string)
	if !ok1 || !ok2 || c == "" || k == "" {
		return "", "", nil, false
	}
	return c, k, fb.Context["preferredValue"], true
}

// AnalyzeFeedbackAndSuggest groups agentName's feedback history by
// preference area, and for every area whose entry count clears
// MinFeedbackForSuggestion, proposes the majority-preferred value if it
// differs from the current preference and the majority's share of entries
// clears MinSuggestionConfidence. Proposed values are registry-validated
// before insertion; an out-of-domain majority value is skipped rather than
// failing the whole analysis, since other areas may still be valid.
func (s *Service) AnalyzeFeedbackAndSuggest(ctx context.Context, agentName string) ([]store.SuggestedPreference, error) {
	profile, err := s.profiles.GetProfile(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", agentName, err)
	}

	type area struct {
		category, key string
	}
	counts := make(map[area]map[interface{}]int)
	for _, fb := range profile.Feedback {
		category, key, preferred, ok := feedbackArea(fb)
		if !ok {
			continue
		}
		a := area{category, key}
		if counts[a] == nil {
			counts[a] = make(map[interface{}]int)
		}
		counts[a][preferred]++
	}

	var produced []store.SuggestedPreference
	for a, votes := range counts {
		total := 0
		var majorityValue interface{}
		majorityCount := 0
		for v, c := range votes {
			total += c
			if c > majorityCount {
				majorityCount = c
				majorityValue = v
			}
		}
		if total < s.thresholds.MinFeedbackForSuggestion {
			continue
		}
		confidence := float64(majorityCount) / float64(total)
		if confidence < s.thresholds.MinSuggestionConfidence {
			continue
		}

		current, _ := profile.Pref(a.category, a.key)
		if current.Value == majorityValue {
			continue
		}

		if vr := s.registry.Validate(a.category, a.key, majorityValue); !vr.Valid {
			s.obs.Logger.Debug("skipping suggestion with out-of-domain majority value",
				"agent", agentName, "category", a.category, "key", a.key, "reason", vr.Reason)
			continue
		}

		sp := store.SuggestedPreference{
			SuggestionID:   uuid.NewString(),
			AgentName:      agentName,
			Category:       a.category,
			Key:            a.key,
			CurrentValue:   current.Value,
			SuggestedValue: majorityValue,
			Confidence:     confidence,
			Reason:         fmt.Sprintf("%d of %d recent feedback entries favored this value", majorityCount, total),
			SuggestedAt:    time.Now(),
			Status:         store.SuggestionPending,
		}
		if err := s.suggestions.CreateSuggestion(ctx, sp); err != nil {
			return produced, fmt.Errorf("persist suggestion: %w", err)
		}
		produced = append(produced, sp)
	}
	return produced, nil
}

// CreateManualSuggestion validates value against the registry and
// persists a suggestion attributed to a human/operator rather than
// inferred from feedback.
func (s *Service) CreateManualSuggestion(ctx context.Context, agentName, category, key string, value interface{}, reason string, confidence float64) (*store.SuggestedPreference, error) {
	if vr := s.registry.Validate(category, key, value); !vr.Valid {
		return nil, errs.Newf(errs.CodeValueOutOfDomain, "invalid preference value for %s.%s: %s", category, key, vr.Reason)
	}

	profile, err := s.profiles.GetProfile(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", agentName, err)
	}
	current, _ := profile.Pref(category, key)

	sp := store.SuggestedPreference{
		SuggestionID:   uuid.NewString(),
		AgentName:      agentName,
		Category:       category,
		Key:            key,
		CurrentValue:   current.Value,
		SuggestedValue: value,
		Confidence:     confidence,
		Reason:         reason,
		SuggestedAt:    time.Now(),
		Status:         store.SuggestionPending,
	}
	if err := s.suggestions.CreateSuggestion(ctx, sp); err != nil {
		return nil, fmt.Errorf("persist suggestion: %w", err)
	}
	return &sp, nil
}

// ApproveSuggestion applies a pending suggestion's value to the agent's
// profile and marks it approved.
func (s *Service) ApproveSuggestion(ctx context.Context, agentName, suggestionID string) error {
	sp, err := s.suggestions.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return err
	}
	errs.Invariant(sp.AgentName == agentName, "suggestion %s does not belong to agent %s", suggestionID, agentName)
	if sp.Status != store.SuggestionPending {
		return errs.Newf(errs.CodeIllegalTransition, "suggestion %s is not pending (status=%s)", suggestionID, sp.Status)
	}

	if err := s.profiles.UpsertPreference(ctx, agentName, store.UserPreference{
		Category:    sp.Category,
		Key:         sp.Key,
		Value:       sp.SuggestedValue,
		Confidence:  sp.Confidence,
		Source:      "suggested",
		LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("apply suggestion preference: %w", err)
	}
	if err := s.profiles.AppendChange(ctx, agentName, store.PreferenceChange{
		AgentName: agentName,
		Category:  sp.Category,
		Key:       sp.Key,
		OldValue:  sp.CurrentValue,
		NewValue:  sp.SuggestedValue,
		Source:    "suggestion_approved",
		ChangedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("append change: %w", err)
	}

	sp.Status = store.SuggestionApproved
	if err := s.suggestions.UpdateSuggestion(ctx, *sp); err != nil {
		return fmt.Errorf("update suggestion status: %w", err)
	}

	if s.bus != nil {
		_ = s.bus.Dispatch(ctx, events.SuggestionApproved{AgentName: agentName, SuggestionID: suggestionID})
	}
	return nil
}

// RejectSuggestion marks a pending suggestion rejected with reason.
func (s *Service) RejectSuggestion(ctx context.Context, agentName, suggestionID, reason string) error {
	sp, err := s.suggestions.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return err
	}
	errs.Invariant(sp.AgentName == agentName, "suggestion %s does not belong to agent %s", suggestionID, agentName)
	if sp.Status != store.SuggestionPending {
		return errs.Newf(errs.CodeIllegalTransition, "suggestion %s is not pending (status=%s)", suggestionID, sp.Status)
	}

	sp.Status = store.SuggestionRejected
	sp.RejectReason = reason
	if err := s.suggestions.UpdateSuggestion(ctx, *sp); err != nil {
		return fmt.Errorf("update suggestion status: %w", err)
	}

	if s.bus != nil {
		_ = s.bus.Dispatch(ctx, events.SuggestionRejected{AgentName: agentName, SuggestionID: suggestionID, Reason: reason})
	}
	return nil
}
