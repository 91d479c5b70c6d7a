// Package feedback implements Feedback Capture (spec §4.D): recording a
// human's reaction to one decision onto both the Decision Record and the
// agent's learning profile, then triggering suggestion analysis once
// enough feedback has accumulated. Grounded conceptually on the teacher's
// internal/detection/engine.go Analyze-and-dispatch shape (accumulate,
// threshold-check, dispatch) though feedback counting here is a simple
// per-agent counter rather than a sliding window.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/suggestion"
)

// Input is the payload of captureFeedback.
type Input struct {
	DecisionRecordID string
	UserAccepted     bool
	UserFeedback     string
	ActualResult     string
	Context          map[string]interface{}
}

// Result is returned on success; SuggestionsCreated is populated only when
// this call crossed the suggestion-analysis threshold, and
// AttemptsProcessed alongside it only when an AttemptService is wired via
// WithAutoAdaptation.
type Result struct {
	SuggestionsCreated []store.SuggestedPreference
	AttemptsProcessed  []adaptation.ProcessResult
}

// Service implements captureFeedback.
type Service struct {
	mu sync.Mutex

	decisions     store.DecisionStore
	profiles      store.ProfileStore
	suggestionSvc *suggestion.Service
	attempts      *adaptation.AttemptService

	suggestionThreshold int
	autoTriggerEnabled  bool
	counts              map[string]int // agentName -> feedback count since last trigger

	obs *obs.Context
}

// New builds a feedback Service.
func New(decisions store.DecisionStore, profiles store.ProfileStore, suggestionSvc *suggestion.Service, suggestionThreshold int, autoTriggerEnabled bool, observability *obs.Context) *Service {
	if observability == nil {
		observability = obs.Null()
	}
	if suggestionThreshold <= 0 {
		suggestionThreshold = 5
	}
	return &Service{
		decisions:           decisions,
		profiles:            profiles,
		suggestionSvc:       suggestionSvc,
		suggestionThreshold: suggestionThreshold,
		autoTriggerEnabled:  autoTriggerEnabled,
		counts:              make(map[string]int),
		obs:                 observability.With("feedback.Service"),
	}
}

// WithAutoAdaptation attaches an AttemptService so that every suggestion
// produced when feedback crosses the trigger threshold is immediately
// evaluated for auto-adaptation, instead of sitting pending until a human
// reviews it through the suggestion approve/reject routes. Optional: a
// Service without one only returns the created suggestions.
func (s *Service) WithAutoAdaptation(attempts *adaptation.AttemptService) *Service {
	s.attempts = attempts
	return s
}

// CaptureFeedback implements the four-step control flow named in spec
// §4.D, returning a tagged Result rather than an error for the expected
// "decision not found" case so callers can render it as data.
func (s *Service) CaptureFeedback(ctx context.Context, in Input) errs.Result[Result] {
	decision, err := s.decisions.GetDecision(ctx, in.DecisionRecordID)
	if err != nil {
		return errs.Fail[Result](errs.New(errs.CodeDecisionNotFound, "Decision record not found"))
	}
	if decision.Outcome != nil {
		return errs.Fail[Result](errs.New(errs.CodeConflict, "feedback has already been recorded for this decision"))
	}

	accepted := in.UserAccepted
	now := time.Now()
	if err := s.decisions.UpdateOutcome(ctx, decision.ID, store.DecisionOutcome{
		UserAccepted: &accepted,
		UserFeedback: in.UserFeedback,
		RecordedAt:   now,
	}); err != nil {
		return errs.Fail[Result](errs.Newf(errs.CodeInternal, "record decision outcome: %v", err))
	}

	fbCtx := in.Context
	if fbCtx == nil {
		fbCtx = map[string]interface{}{}
	}
	if err := s.profiles.AppendFeedback(ctx, decision.AgentName, store.FeedbackEntry{
		DecisionRecordID: decision.ID,
		UserAccepted:     in.UserAccepted,
		UserFeedback:     in.UserFeedback,
		ActualResult:     in.ActualResult,
		Context:          fbCtx,
		RecordedAt:       now,
	}); err != nil {
		return errs.Fail[Result](errs.Newf(errs.CodeInternal, "append feedback entry: %v", err))
	}

	result := Result{}

	s.mu.Lock()
	s.counts[decision.AgentName]++
	crossedThreshold := s.autoTriggerEnabled && s.counts[decision.AgentName] >= s.suggestionThreshold
	if crossedThreshold {
		s.counts[decision.AgentName] = 0
	}
	s.mu.Unlock()

	if crossedThreshold {
		suggestions, err := s.suggestionSvc.AnalyzeFeedbackAndSuggest(ctx, decision.AgentName)
		if err != nil {
			s.obs.Logger.Warn("suggestion analysis failed after feedback threshold", "agent", decision.AgentName, "error", err)
		} else {
			result.SuggestionsCreated = suggestions
			if s.attempts != nil {
				for _, sp := range suggestions {
					pr, err := s.attempts.ProcessSuggestion(ctx, sp)
					if err != nil {
						s.obs.Logger.Warn("auto-adaptation processing failed", "agent", decision.AgentName,
							"suggestion_id", sp.SuggestionID, "error", err)
						continue
					}
					result.AttemptsProcessed = append(result.AttemptsProcessed, pr)
				}
			}
		}
	}

	return errs.Ok(result)
}
