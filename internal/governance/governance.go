// Package governance implements Agent Governance (spec §4.B): per-process
// policy, cooldown and suggestion-count state guarding every generation an
// agent performs, plus the governed-generation pipeline that chooses
// between an LLM call and a caller-supplied rule-based fallback. Grounded
// on the teacher's internal/policy/engine.go pipeline shape (sequential
// checks, short-circuit on the first terminal outcome) and its
// internal/auth-style per-key map state.
package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/store"
)

// FallbackFunc produces rule-based content when AI generation is
// disallowed or fails. The spec leaves its body to callers; internal/agents
// supplies the three named illustrative implementations.
type FallbackFunc func(ctx context.Context, agentName string, tmpl Template, genCtx map[string]interface{}) (string, error)

// GenerateOpts parameterizes one governed generation call.
type GenerateOpts struct {
	AgentName   string
	Template    Template
	Context     map[string]interface{}
	Fallback    FallbackFunc

	// Decision record linkage, used only by GenerateWithDecisionRecord.
	TriggeringEventType string
	TriggeringEventID   string
	AggregateType       string
	AggregateID         string
	DecisionType        string
}

// GenerationResult is the outcome of GenerateWithGovernance.
type GenerationResult struct {
	Content         string
	ReasoningSource store.ReasoningSource
	FallbackReason  string
	AI              *store.AIMetadata
}

// Engine holds per-process governance state: policies, cooldowns and
// per-event suggestion counts, plus the LLM port used for AI generation.
type Engine struct {
	mu sync.Mutex

	policyStore store.AgentPolicyStore
	decisions   store.DecisionStore

	cooldowns        map[string]time.Time // "agent:aggregateId" -> lastAt
	suggestionCounts map[string]int       // "agent:eventId" -> count

	llm     LLMPort
	breaker *Breaker

	defaultConfidenceThreshold float64

	obs *obs.Context
}

// New builds a governance Engine.
func New(policyStore store.AgentPolicyStore, decisions store.DecisionStore, llm LLMPort, breaker *Breaker, observability *obs.Context) *Engine {
	if observability == nil {
		observability = obs.Null()
	}
	if breaker == nil {
		breaker = NewBreaker(5, 30*time.Second)
	}
	return &Engine{
		policyStore:                policyStore,
		decisions:                  decisions,
		cooldowns:                  make(map[string]time.Time),
		suggestionCounts:           make(map[string]int),
		llm:                        llm,
		breaker:                    breaker,
		defaultConfidenceThreshold: 0.6,
		obs:                        observability.With("governance.Engine"),
	}
}

func cooldownKey(agentName, aggregateID string) string { return agentName + ":" + aggregateID }
func suggestionKey(agentName, eventID string) string    { return agentName + ":" + eventID }

// RegisterPolicy persists (or replaces) an agent's governance policy.
func (e *Engine) RegisterPolicy(ctx context.Context, p store.AgentPolicy) error {
	return e.policyStore.PutAgentPolicy(ctx, p)
}

// Policy returns the registered policy for agentName.
func (e *Engine) Policy(ctx context.Context, agentName string) (*store.AgentPolicy, error) {
	return e.policyStore.GetAgentPolicy(ctx, agentName)
}

// CanTakeAction reports whether agentName may act on aggregateID again,
// i.e. at least CooldownMs has elapsed since the last recorded action.
func (e *Engine) CanTakeAction(ctx context.Context, agentName, aggregateID string) (bool, error) {
	p, err := e.policyStore.GetAgentPolicy(ctx, agentName)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	last, ok := e.cooldowns[cooldownKey(agentName, aggregateID)]
	e.mu.Unlock()
	if !ok {
		return true, nil
	}
	return time.Since(last) >= time.Duration(p.CooldownMs)*time.Millisecond, nil
}

// RecordAction stamps "now" as the last action time for (agent, aggregate),
// starting its cooldown window.
func (e *Engine) RecordAction(agentName, aggregateID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[cooldownKey(agentName, aggregateID)] = time.Now()
}

// CanMakeSuggestion reports whether agentName may still produce a
// suggestion for eventID under its policy's MaxSuggestionsPerEvent.
func (e *Engine) CanMakeSuggestion(ctx context.Context, agentName, eventID string) (bool, error) {
	p, err := e.policyStore.GetAgentPolicy(ctx, agentName)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	count := e.suggestionCounts[suggestionKey(agentName, eventID)]
	e.mu.Unlock()
	return count < p.MaxSuggestionsPerEvent, nil
}

// RecordSuggestion increments the suggestion count for (agent, event).
func (e *Engine) RecordSuggestion(agentName, eventID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suggestionCounts[suggestionKey(agentName, eventID)]++
}

// GenerateWithGovernance implements the control flow named in spec §4.B:
// disabled policy and missing template fields fall back (or fail) before
// ever calling the LLM; a failed call or low-confidence response fall back
// (or fail) afterward. Every path that reaches the breaker-guarded LLM
// call records the latency histogram and the call counter; the AI-error
// and low-confidence paths also increment the fallback counter.
func (e *Engine) GenerateWithGovernance(ctx context.Context, opts GenerateOpts) (GenerationResult, error) {
	log := e.obs.Logger.With("agent", opts.AgentName, "template", opts.Template.Name)

	policy, err := e.policyStore.GetAgentPolicy(ctx, opts.AgentName)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("load agent policy: %w", err)
	}

	if !policy.AIEnabled {
		return e.fallback(ctx, opts, policy, "disabled")
	}

	if missing := opts.Template.MissingFields(opts.Context); len(missing) > 0 {
		if policy.FallbackToRules {
			return e.fallback(ctx, opts, policy, "missing fields")
		}
		return GenerationResult{}, errs.Newf(errs.CodeTemplateValidation, "template %s missing required fields: %v", opts.Template.Name, missing)
	}

	prompt, err := opts.Template.Render(opts.Context)
	if err != nil {
		if policy.FallbackToRules {
			return e.fallback(ctx, opts, policy, "template render error: "+err.Error())
		}
		return GenerationResult{}, errs.Newf(errs.CodeTemplateValidation, "render template %s: %v", opts.Template.Name, err)
	}

	start := time.Now()
	resp, err := e.breaker.Call(ctx, func(ctx context.Context) (Response, error) { return e.llm.Generate(ctx, prompt) })
	latency := time.Since(start)
	e.obs.Metrics.AILatency.WithLabelValues(opts.AgentName).Observe(latency.Seconds())

	if err != nil {
		e.obs.Metrics.AICalls.WithLabelValues(opts.AgentName, "error").Inc()
		log.Warn("llm call failed", "error", err)
		e.obs.Metrics.AIFallbacks.WithLabelValues(opts.AgentName, "ai_error").Inc()
		if policy.FallbackToRules {
			return e.fallback(ctx, opts, policy, "AI error: "+err.Error())
		}
		return GenerationResult{}, errs.Newf(errs.CodeLLMUnavailable, "llm call failed: %v", err)
	}

	e.obs.Metrics.AICalls.WithLabelValues(opts.AgentName, "success").Inc()
	e.obs.Metrics.AITokens.WithLabelValues(opts.AgentName, "prompt").Add(float64(resp.Tokens.Prompt))
	e.obs.Metrics.AITokens.WithLabelValues(opts.AgentName, "completion").Add(float64(resp.Tokens.Completion))
	e.obs.Metrics.AICostUSD.WithLabelValues(opts.AgentName).Add(resp.CostUSD)

	threshold := policy.ConfidenceThreshold
	if threshold <= 0 {
		threshold = e.defaultConfidenceThreshold
	}
	if resp.Confidence < threshold {
		e.obs.Metrics.AIFallbacks.WithLabelValues(opts.AgentName, "low_confidence").Inc()
		if policy.FallbackToRules {
			return e.fallback(ctx, opts, policy, fmt.Sprintf("low confidence: %.2f < %.2f", resp.Confidence, threshold))
		}
		return GenerationResult{}, errs.Newf(errs.CodeLLMLowConfidence, "llm confidence %.2f below threshold %.2f", resp.Confidence, threshold)
	}

	return GenerationResult{
		Content:         resp.Content,
		ReasoningSource: store.ReasoningLLM,
		AI: &store.AIMetadata{
			Model:      resp.Model,
			Confidence: resp.Confidence,
			Tokens:     resp.Tokens,
			CostUSD:    resp.CostUSD,
			LatencyMs:  latency.Milliseconds(),
		},
	}, nil
}

func (e *Engine) fallback(ctx context.Context, opts GenerateOpts, policy *store.AgentPolicy, reason string) (GenerationResult, error) {
	errs.Invariant(opts.Fallback != nil, "GenerateOpts.Fallback must be set when policy.FallbackToRules is true")
	e.obs.Metrics.AIFallbacks.WithLabelValues(opts.AgentName, reason).Inc()
	content, err := opts.Fallback(ctx, opts.AgentName, opts.Template, opts.Context)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("fallback generation failed: %w", err)
	}
	return GenerationResult{
		Content:         content,
		ReasoningSource: store.ReasoningFallback,
		FallbackReason:  reason,
	}, nil
}

// GenerateWithDecisionRecord wraps GenerateWithGovernance and persists a
// DecisionRecord capturing AI metadata when AI was actually used.
func (e *Engine) GenerateWithDecisionRecord(ctx context.Context, opts GenerateOpts) (GenerationResult, *store.DecisionRecord, error) {
	result, err := e.GenerateWithGovernance(ctx, opts)
	if err != nil {
		return GenerationResult{}, nil, err
	}

	record := store.DecisionRecord{
		ID:                  uuid.NewString(),
		AgentName:           opts.AgentName,
		TriggeringEventType: opts.TriggeringEventType,
		TriggeringEventID:   opts.TriggeringEventID,
		AggregateType:       opts.AggregateType,
		AggregateID:         opts.AggregateID,
		DecisionType:        opts.DecisionType,
		ReasoningSource:     result.ReasoningSource,
		DecisionContent: map[string]interface{}{
			"content":        result.Content,
			"fallbackReason": result.FallbackReason,
		},
		AI:        result.AI,
		CreatedAt: time.Now(),
	}
	if err := e.decisions.CreateDecision(ctx, record); err != nil {
		return result, nil, fmt.Errorf("persist decision record: %w", err)
	}
	return result, &record, nil
}

// CreateDecisionRecord persists a Decision Record for a rule/heuristic
// decision that never touched the LLM (spec §4.B).
func (e *Engine) CreateDecisionRecord(ctx context.Context, agentName string, source store.ReasoningSource, triggeringEventType, triggeringEventID, aggregateType, aggregateID, decisionType string, content map[string]interface{}) (*store.DecisionRecord, error) {
	errs.Invariant(source != store.ReasoningLLM, "CreateDecisionRecord is for non-AI decisions; use GenerateWithDecisionRecord for AI-sourced ones")
	record := store.DecisionRecord{
		ID:                  uuid.NewString(),
		AgentName:           agentName,
		TriggeringEventType: triggeringEventType,
		TriggeringEventID:   triggeringEventID,
		AggregateType:       aggregateType,
		AggregateID:         aggregateID,
		DecisionType:        decisionType,
		ReasoningSource:     source,
		DecisionContent:     content,
		CreatedAt:           time.Now(),
	}
	if err := e.decisions.CreateDecision(ctx, record); err != nil {
		return nil, fmt.Errorf("persist decision record: %w", err)
	}
	return &record, nil
}
