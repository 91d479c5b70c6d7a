// Package adaptation implements Adaptation Policy & Auto-Adaptation (spec
// §4.E): per-agent opt-in/scope configuration, the eight-step ordered gate
// that decides whether a suggestion may be applied automatically, and the
// attempt state machine (created → applied|blocked|skipped → optionally
// rolledBack). Grounded on the teacher's internal/policy/ratelimit.go
// (sliding-window counting) and internal/policy/budget.go (trivial
// threshold check) for the cooldown/rate-limit/confidence mechanics, and on
// internal/evolution/rollback.go's trigger-and-restore shape for rollback.
package adaptation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
)

// Block reason codes returned by EvaluateAutoAdaptation, named exactly as
// spec §4.E lists them.
const (
	ReasonPreferenceNotAdaptive = "preference_not_adaptive"
	ReasonUserNotOptedIn        = "user_not_opted_in"
	ReasonModeIsManual          = "mode_is_manual"
	ReasonPreferenceLocked      = "preference_locked"
	ReasonRiskLevelNotAllowed   = "risk_level_not_allowed"
	ReasonCooldownNotElapsed    = "cooldown_not_elapsed"
	ReasonRateLimitExceeded     = "rate_limit_exceeded"
	ReasonConfidenceTooLow      = "confidence_too_low"
	ReasonAlreadyAtValue        = "preference_already_at_suggested_value"
)

// EvaluateResult is the return value of EvaluateAutoAdaptation.
type EvaluateResult struct {
	Allowed                      bool
	BlockReason                  string
	EffectiveConfidenceThreshold float64
}

// PolicyService implements the Adaptation Policy operations.
type PolicyService struct {
	policies store.AdaptationPolicyStore
	registry *registry.Registry
	obs      *obs.Context
}

// NewPolicyService builds a PolicyService.
func NewPolicyService(policies store.AdaptationPolicyStore, reg *registry.Registry, observability *obs.Context) *PolicyService {
	if observability == nil {
		observability = obs.Null()
	}
	return &PolicyService{policies: policies, registry: reg, obs: observability.With("adaptation.PolicyService")}
}

// GetOrCreatePolicy returns agent's AdaptationPolicy, creating a
// manual/opt-out default (minConfidence=0.7, allowedRiskLevels=[low]) if
// none exists yet.
func (p *PolicyService) GetOrCreatePolicy(ctx context.Context, agentName string) (*store.AdaptationPolicy, error) {
	existing, err := p.policies.GetAdaptationPolicyForAgent(ctx, agentName)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	fresh := store.AdaptationPolicy{
		ID:                uuid.NewString(),
		AgentName:         agentName,
		Mode:              store.ModeManual,
		UserOptedIn:       false,
		MinConfidence:     0.7,
		AllowedRiskLevels: []store.RiskLevel{store.RiskLow},
		CooldownMs:        0,
		RateLimit:         store.RateLimit{MaxChanges: 0, WindowMs: 0},
	}
	if err := p.policies.PutAdaptationPolicy(ctx, fresh); err != nil {
		return nil, fmt.Errorf("create default adaptation policy: %w", err)
	}
	return &fresh, nil
}

// EnableAutoAdaptation opts the agent into auto mode with the given
// tuning; zero values for minConfidence/allowedRiskLevels keep the
// policy's existing settings.
type EnableOptions struct {
	MinConfidence     float64
	AllowedRiskLevels []store.RiskLevel
	CooldownMs        int64
	RateLimit         store.RateLimit
}

func (p *PolicyService) EnableAutoAdaptation(ctx context.Context, agentName string, opts EnableOptions) error {
	policy, err := p.GetOrCreatePolicy(ctx, agentName)
	if err != nil {
		return err
	}
	policy.Mode = store.ModeAuto
	policy.UserOptedIn = true
	if opts.MinConfidence > 0 {
		policy.MinConfidence = opts.MinConfidence
	}
	if len(opts.AllowedRiskLevels) > 0 {
		policy.AllowedRiskLevels = opts.AllowedRiskLevels
	}
	if opts.CooldownMs > 0 {
		policy.CooldownMs = opts.CooldownMs
	}
	if opts.RateLimit.MaxChanges > 0 {
		policy.RateLimit = opts.RateLimit
	}
	return p.policies.PutAdaptationPolicy(ctx, *policy)
}

// DisableAutoAdaptation reverts the agent to manual mode. UserOptedIn is
// left untouched so re-enabling does not require fresh consent.
func (p *PolicyService) DisableAutoAdaptation(ctx context.Context, agentName string) error {
	policy, err := p.GetOrCreatePolicy(ctx, agentName)
	if err != nil {
		return err
	}
	policy.Mode = store.ModeManual
	return p.policies.PutAdaptationPolicy(ctx, *policy)
}

func (p *PolicyService) upsertRestriction(ctx context.Context, agentName, category, key string, mutate func(*store.ScopeRestriction)) error {
	policy, err := p.GetOrCreatePolicy(ctx, agentName)
	if err != nil {
		return err
	}
	if r := policy.Restriction(category, key); r != nil {
		mutate(r)
	} else {
		r := store.ScopeRestriction{Category: category, Key: key}
		mutate(&r)
		policy.ScopeRestrictions = append(policy.ScopeRestrictions, r)
	}
	return p.policies.PutAdaptationPolicy(ctx, *policy)
}

// LockPreference marks (category, key) locked, blocking auto-adaptation
// regardless of mode.
func (p *PolicyService) LockPreference(ctx context.Context, agentName, category, key string) error {
	return p.upsertRestriction(ctx, agentName, category, key, func(r *store.ScopeRestriction) { r.Locked = true })
}

// UnlockPreference clears a prior lock.
func (p *PolicyService) UnlockPreference(ctx context.Context, agentName, category, key string) error {
	return p.upsertRestriction(ctx, agentName, category, key, func(r *store.ScopeRestriction) { r.Locked = false })
}

// SetScopeRestriction sets a per-preference mode/confidence override.
func (p *PolicyService) SetScopeRestriction(ctx context.Context, agentName, category, key string, mode store.AdaptationMode, minConfidence *float64) error {
	return p.upsertRestriction(ctx, agentName, category, key, func(r *store.ScopeRestriction) {
		r.Mode = mode
		r.MinConfidence = minConfidence
	})
}

// EvaluateAutoAdaptation runs the eight ordered checks named in spec §4.E,
// short-circuiting at the first failure. It does not mutate policy state —
// the cooldown/rate-limit tick is recorded separately once a suggestion is
// actually applied, by RecordAppliedTick.
func (p *PolicyService) EvaluateAutoAdaptation(ctx context.Context, agentName, category, key string, confidence float64, risk store.RiskLevel) (EvaluateResult, error) {
	if !p.registry.IsAdaptive(category, key) {
		return EvaluateResult{BlockReason: ReasonPreferenceNotAdaptive}, nil
	}

	policy, err := p.GetOrCreatePolicy(ctx, agentName)
	if err != nil {
		return EvaluateResult{}, err
	}

	if !policy.UserOptedIn {
		return EvaluateResult{BlockReason: ReasonUserNotOptedIn}, nil
	}
	if policy.Mode == store.ModeManual {
		return EvaluateResult{BlockReason: ReasonModeIsManual}, nil
	}

	restriction := policy.Restriction(category, key)
	if restriction != nil && restriction.Locked {
		return EvaluateResult{BlockReason: ReasonPreferenceLocked}, nil
	}
	if restriction != nil && restriction.Mode == store.ModeManual {
		return EvaluateResult{BlockReason: ReasonModeIsManual}, nil
	}

	if !policy.AllowsRisk(risk) {
		return EvaluateResult{BlockReason: ReasonRiskLevelNotAllowed}, nil
	}

	if policy.LastAutoAdaptAt != nil && policy.CooldownMs > 0 {
		if time.Since(*policy.LastAutoAdaptAt) < time.Duration(policy.CooldownMs)*time.Millisecond {
			return EvaluateResult{BlockReason: ReasonCooldownNotElapsed}, nil
		}
	}

	if policy.RateLimit.MaxChanges > 0 {
		effectiveCount := policy.CurrentWindowCount
		if policy.WindowStartedAt != nil && time.Since(*policy.WindowStartedAt) >= time.Duration(policy.RateLimit.WindowMs)*time.Millisecond {
			effectiveCount = 0
		}
		if effectiveCount >= policy.RateLimit.MaxChanges {
			return EvaluateResult{BlockReason: ReasonRateLimitExceeded}, nil
		}
	}

	threshold := policy.MinConfidence
	if restriction != nil && restriction.MinConfidence != nil && *restriction.MinConfidence > threshold {
		threshold = *restriction.MinConfidence
	}
	if regThreshold, ok := p.registry.GetConfidenceThreshold(category, key); ok && regThreshold > threshold {
		threshold = regThreshold
	}
	if confidence < threshold {
		return EvaluateResult{BlockReason: ReasonConfidenceTooLow, EffectiveConfidenceThreshold: threshold}, nil
	}

	return EvaluateResult{Allowed: true, EffectiveConfidenceThreshold: threshold}, nil
}

// RecordAppliedTick persists the cooldown stamp and rate-limit window
// advance for agentName after a suggestion was actually auto-applied.
func (p *PolicyService) RecordAppliedTick(ctx context.Context, agentName string) error {
	policy, err := p.GetOrCreatePolicy(ctx, agentName)
	if err != nil {
		return err
	}
	now := time.Now()
	policy.LastAutoAdaptAt = &now

	if policy.RateLimit.MaxChanges > 0 {
		if policy.WindowStartedAt == nil || time.Since(*policy.WindowStartedAt) >= time.Duration(policy.RateLimit.WindowMs)*time.Millisecond {
			policy.WindowStartedAt = &now
			policy.CurrentWindowCount = 1
		} else {
			policy.CurrentWindowCount++
		}
	}
	return p.policies.PutAdaptationPolicy(ctx, *policy)
}
