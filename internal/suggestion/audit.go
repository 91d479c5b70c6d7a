package suggestion

import (
	"context"
	"fmt"
	"time"

	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
)

// AuditSummary is the read-model returned by GetAuditSummary.
type AuditSummary struct {
	AgentName             string
	TotalPreferences       int
	TotalFeedbackReceived  int
	OverallAcceptanceRate  float64
	TotalSuggestions       int
	PendingSuggestions     int
	ApprovedSuggestions    int
	RejectedSuggestions    int
	TotalChanges           int
}

// DefaultComparison describes one preference's drift from its registry
// default, returned by CompareToDefaults.
type DefaultComparison struct {
	Category     string
	Key          string
	CurrentValue interface{}
	DefaultValue interface{}
	IsDefault    bool
}

// AuditService implements PreferenceAuditService.
type AuditService struct {
	profiles    store.ProfileStore
	suggestions store.SuggestionStore
	registry    *registry.Registry
	obs         *obs.Context
}

// NewAuditService builds an AuditService.
func NewAuditService(profiles store.ProfileStore, suggestions store.SuggestionStore, reg *registry.Registry, observability *obs.Context) *AuditService {
	if observability == nil {
		observability = obs.Null()
	}
	return &AuditService{profiles: profiles, suggestions: suggestions, registry: reg, obs: observability.With("suggestion.AuditService")}
}

// GetAuditSummary aggregates an agent's preference, feedback and
// suggestion counts into a single read-model.
func (a *AuditService) GetAuditSummary(ctx context.Context, agentName string) (*AuditSummary, error) {
	profile, err := a.profiles.GetProfile(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", agentName, err)
	}
	suggestions, err := a.suggestions.ListSuggestions(ctx, agentName, "")
	if err != nil {
		return nil, fmt.Errorf("list suggestions for %s: %w", agentName, err)
	}

	summary := &AuditSummary{
		AgentName:             agentName,
		TotalPreferences:      len(profile.Preferences),
		TotalFeedbackReceived: profile.TotalFeedbackReceived,
		OverallAcceptanceRate: profile.OverallAcceptanceRate,
		TotalSuggestions:      len(suggestions),
		TotalChanges:          len(profile.Changes),
	}
	for _, sp := range suggestions {
		switch sp.Status {
		case store.SuggestionPending:
			summary.PendingSuggestions++
		case store.SuggestionApproved:
			summary.ApprovedSuggestions++
		case store.SuggestionRejected:
			summary.RejectedSuggestions++
		}
	}
	return summary, nil
}

// CompareToDefaults reports, for every declared registry entry, whether
// the agent's current preference matches the declared default.
func (a *AuditService) CompareToDefaults(ctx context.Context, agentName string) ([]DefaultComparison, error) {
	profile, err := a.profiles.GetProfile(ctx, agentName)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", agentName, err)
	}

	out := make([]DefaultComparison, 0)
	for _, entry := range a.registry.Entries() {
		def, _ := a.registry.GetDefaultValue(entry.Category, entry.Key, agentName)
		current, hasCurrent := profile.Pref(entry.Category, entry.Key)
		currentValue := def
		if hasCurrent {
			currentValue = current.Value
		}
		out = append(out, DefaultComparison{
			Category:     entry.Category,
			Key:          entry.Key,
			CurrentValue: currentValue,
			DefaultValue: def,
			IsDefault:    currentValue == def,
		})
	}
	return out, nil
}

// ResetPreferenceToDefault overwrites (category, key) with its registry
// default, recording a "reset_to_default" change entry.
func (a *AuditService) ResetPreferenceToDefault(ctx context.Context, agentName, category, key string) error {
	def, ok := a.registry.GetDefaultValue(category, key, agentName)
	if !ok {
		return fmt.Errorf("no registry entry for %s.%s", category, key)
	}

	profile, err := a.profiles.GetProfile(ctx, agentName)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", agentName, err)
	}
	current, _ := profile.Pref(category, key)

	if err := a.profiles.UpsertPreference(ctx, agentName, store.UserPreference{
		Category: category, Key: key, Value: def, Source: "default", LastUpdated: time.Now(),
	}); err != nil {
		return fmt.Errorf("reset preference: %w", err)
	}
	return a.profiles.AppendChange(ctx, agentName, store.PreferenceChange{
		AgentName: agentName, Category: category, Key: key,
		OldValue: current.Value, NewValue: def, Source: "reset_to_default", ChangedAt: time.Now(),
	})
}

// GetChangeHistory returns the audit trail for a preference area, or the
// whole agent's history when category/key are empty.
func (a *AuditService) GetChangeHistory(ctx context.Context, agentName, category, key string) ([]store.PreferenceChange, error) {
	return a.profiles.ListChanges(ctx, agentName, category, key)
}
