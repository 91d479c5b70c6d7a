// Package projection composes pure, side-effect-free read-model views
// (spec §2.M) over the repositories every other component writes to. A
// projection never mutates state, never dispatches events, and running
// one twice over the same store produces byte-equal output (spec §8
// "Projections purity"). Grounded on the teacher's internal/trace/store.go,
// which likewise derives list views directly off persisted records rather
// than maintaining its own materialized state.
package projection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prefctl/prefctl/internal/store"
)

// Page describes one page of a paginated list, matching spec §6's
// response envelope {page, pageSize, total, totalPages}.
type Page struct {
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// normalize clamps page/pageSize to spec §4.J's bounds: pageSize defaults
// to 25 and clamps to [1,100]; page defaults to 1 and floors at 1.
func normalize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// paginate slices items into the requested page, returning the slice and
// the resulting Page metadata computed off the pre-slice total.
func paginate[T any](items []T, page, pageSize int) ([]T, Page) {
	page, pageSize = normalize(page, pageSize)
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []T{}, Page{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return items[start:end], Page{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// Service composes the read-model views over a store.Store. Every method
// is a pure function of the store's current content: no method mutates a
// repository or dispatches a domain event.
type Service struct {
	store store.Store
}

// NewService builds a projection Service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// PreferenceRow is one flattened preference across an agent's profile,
// the shape GET /preferences (spec §6) lists.
type PreferenceRow struct {
	AgentName   string
	Category    string
	Key         string
	Value       interface{}
	Confidence  float64
	Source      string
	LastUpdated string // RFC3339
}

// Preferences lists every current preference, optionally filtered to one
// agent, sorted by (agentName, category, key) for deterministic output.
func (s *Service) Preferences(ctx context.Context, agent string, page, pageSize int) ([]PreferenceRow, Page, error) {
	agents, err := s.agentsToScan(ctx, agent)
	if err != nil {
		return nil, Page{}, err
	}

	var rows []PreferenceRow
	for _, name := range agents {
		profile, err := s.store.GetProfile(ctx, name)
		if err != nil {
			return nil, Page{}, err
		}
		for _, pref := range profile.Preferences {
			rows = append(rows, PreferenceRow{
				AgentName: name, Category: pref.Category, Key: pref.Key,
				Value: pref.Value, Confidence: pref.Confidence,
				Source: pref.Source, LastUpdated: formatTime(pref.LastUpdated),
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AgentName != rows[j].AgentName {
			return rows[i].AgentName < rows[j].AgentName
		}
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Key < rows[j].Key
	})

	sliced, meta := paginate(rows, page, pageSize)
	return sliced, meta, nil
}

// agentsToScan returns []{agent} when agent is non-empty, else every known
// agent name, so single-agent filters avoid a full profile scan.
func (s *Service) agentsToScan(ctx context.Context, agent string) ([]string, error) {
	if agent != "" {
		return []string{agent}, nil
	}
	return s.store.ListAgentNames(ctx)
}

// SuggestionRow is the shape GET /suggestions (spec §6) lists.
type SuggestionRow struct {
	SuggestionID   string
	AgentName      string
	Category       string
	Key            string
	CurrentValue   interface{}
	SuggestedValue interface{}
	Confidence     float64
	Reason         string
	Status         store.SuggestionStatus
	SuggestedAt    string // RFC3339
}

// Suggestions lists suggested preferences filtered by status (empty =
// any) and agent (empty = any), newest first.
func (s *Service) Suggestions(ctx context.Context, agent string, status store.SuggestionStatus, page, pageSize int) ([]SuggestionRow, Page, error) {
	raw, err := s.store.ListSuggestions(ctx, agent, status)
	if err != nil {
		return nil, Page{}, err
	}
	rows := make([]SuggestionRow, 0, len(raw))
	for _, sp := range raw {
		rows = append(rows, SuggestionRow{
			SuggestionID: sp.SuggestionID, AgentName: sp.AgentName, Category: sp.Category, Key: sp.Key,
			CurrentValue: sp.CurrentValue, SuggestedValue: sp.SuggestedValue, Confidence: sp.Confidence,
			Reason: sp.Reason, Status: sp.Status, SuggestedAt: formatTime(sp.SuggestedAt),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SuggestedAt > rows[j].SuggestedAt })

	sliced, meta := paginate(rows, page, pageSize)
	return sliced, meta, nil
}

// ArbitrationRow is the shape GET /arbitrations (spec §6) lists.
type ArbitrationRow struct {
	DecisionID        string
	ConflictID        string
	Outcome           store.ArbitrationOutcome
	StrategyUsed      store.ResolutionStrategy
	WinningProposalID string
	Escalated         bool
	Executed          bool
	CreatedAt         string // RFC3339
}

// Arbitrations lists arbitration decisions, optionally filtered to only
// escalated ones, newest first.
func (s *Service) Arbitrations(ctx context.Context, escalatedOnly bool, page, pageSize int) ([]ArbitrationRow, Page, error) {
	all, err := s.store.ListArbitrationDecisions(ctx, 0, 0)
	if err != nil {
		return nil, Page{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	rows := make([]ArbitrationRow, 0, len(all))
	for _, d := range all {
		escalated := d.Outcome == store.OutcomeEscalated
		if escalatedOnly && !escalated {
			continue
		}
		rows = append(rows, ArbitrationRow{
			DecisionID: d.ID, ConflictID: d.ConflictID, Outcome: d.Outcome,
			StrategyUsed: d.StrategyUsed, WinningProposalID: d.WinningProposalID,
			Escalated: escalated, Executed: d.Executed, CreatedAt: formatTime(d.CreatedAt),
		})
	}

	sliced, meta := paginate(rows, page, pageSize)
	return sliced, meta, nil
}

// AuditFilter narrows GET /audit (spec §6: "?since,until,type,agent").
// EventType, when non-empty, must be one of "adaptation", "arbitration" or
// "suggestion"; Agent, when non-empty, restricts to that agent's entries.
type AuditFilter struct {
	Since     time.Time
	Until     time.Time
	EventType string
	Agent     string
}

// AuditRow is one entry in the merged preference-change audit trail (spec
// §4.C "change history"): every adaptation attempt, arbitration decision
// and suggestion-status change, interleaved and sorted newest first.
type AuditRow struct {
	EventType   string // "adaptation" | "arbitration" | "suggestion"
	EntityID    string
	AgentName   string
	Summary     string
	Outcome     string
	OccurredAt  string // RFC3339
	occurredAt  time.Time
}

const (
	defaultAuditWindow = 30 * 24 * time.Hour
	maxAuditWindow     = 90 * 24 * time.Hour
)

// ResolveAuditWindow fills in spec §4.J's default 30-day audit window and
// enforces its 90-day cap, validating that since precedes until. now is
// passed in rather than read from time.Now so callers stay testable.
func ResolveAuditWindow(since, until time.Time, now time.Time) (time.Time, time.Time, error) {
	if until.IsZero() {
		until = now
	}
	if since.IsZero() {
		since = until.Add(-defaultAuditWindow)
	}
	if until.Before(since) {
		return time.Time{}, time.Time{}, fmt.Errorf("until must not precede since")
	}
	if until.Sub(since) > maxAuditWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("audit window exceeds the %s cap", maxAuditWindow)
	}
	return since, until, nil
}

// Audit merges the adaptation, arbitration and suggestion trails into one
// chronological audit log (spec §4.C, §6), filtered to the given window,
// event type and agent.
func (s *Service) Audit(ctx context.Context, filter AuditFilter, page, pageSize int) ([]AuditRow, Page, error) {
	var rows []AuditRow

	if filter.EventType == "" || filter.EventType == "adaptation" {
		attempts, err := s.store.ListAttempts(ctx, filter.Agent, 0, 0)
		if err != nil {
			return nil, Page{}, err
		}
		for _, a := range attempts {
			if !withinWindow(a.Timestamp, filter.Since, filter.Until) {
				continue
			}
			rows = append(rows, AuditRow{
				EventType: "adaptation", EntityID: a.ID, AgentName: a.AgentName,
				Summary:    fmt.Sprintf("%s.%s -> %v", a.Category, a.Key, a.SuggestedValue),
				Outcome:    string(a.Result),
				occurredAt: a.Timestamp, OccurredAt: formatTime(a.Timestamp),
			})
		}
	}

	if filter.EventType == "" || filter.EventType == "arbitration" {
		decisions, err := s.store.ListArbitrationDecisions(ctx, 0, 0)
		if err != nil {
			return nil, Page{}, err
		}
		for _, d := range decisions {
			if !withinWindow(d.CreatedAt, filter.Since, filter.Until) {
				continue
			}
			rows = append(rows, AuditRow{
				// Arbitration decisions don't carry an agent name directly;
				// leaving it blank keeps the row visible under any agent
				// filter rather than silently dropping arbitration history.
				EventType: "arbitration", EntityID: d.ID, AgentName: "",
				Summary:    d.ReasoningSummary,
				Outcome:    string(d.Outcome),
				occurredAt: d.CreatedAt, OccurredAt: formatTime(d.CreatedAt),
			})
		}
	}

	if filter.EventType == "" || filter.EventType == "suggestion" {
		suggestions, err := s.store.ListSuggestions(ctx, filter.Agent, "")
		if err != nil {
			return nil, Page{}, err
		}
		for _, sp := range suggestions {
			if !withinWindow(sp.SuggestedAt, filter.Since, filter.Until) {
				continue
			}
			rows = append(rows, AuditRow{
				EventType: "suggestion", EntityID: sp.SuggestionID, AgentName: sp.AgentName,
				Summary:    fmt.Sprintf("%s.%s -> %v", sp.Category, sp.Key, sp.SuggestedValue),
				Outcome:    string(sp.Status),
				occurredAt: sp.SuggestedAt, OccurredAt: formatTime(sp.SuggestedAt),
			})
		}
	}

	if filter.Agent != "" {
		rows = filterByAgent(rows, filter.Agent)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].occurredAt.After(rows[j].occurredAt) })

	sliced, meta := paginate(rows, page, pageSize)
	return sliced, meta, nil
}

func withinWindow(t, since, until time.Time) bool {
	return !t.Before(since) && !t.After(until)
}

func filterByAgent(rows []AuditRow, agent string) []AuditRow {
	out := rows[:0]
	for _, r := range rows {
		if r.AgentName == "" || r.AgentName == agent {
			out = append(out, r)
		}
	}
	return out
}

// EscalationRow is the shape GET /escalations/pending (spec §6) lists.
type EscalationRow struct {
	DecisionID  string
	ConflictID  string
	Reason      string
	CreatedAt   string // RFC3339
}

// PendingEscalations lists arbitration decisions awaiting human review:
// outcome=escalated and not yet executed.
func (s *Service) PendingEscalations(ctx context.Context, page, pageSize int) ([]EscalationRow, Page, error) {
	all, err := s.store.ListArbitrationDecisions(ctx, 0, 0)
	if err != nil {
		return nil, Page{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	var rows []EscalationRow
	for _, d := range all {
		if d.Outcome != store.OutcomeEscalated || d.Executed {
			continue
		}
		rows = append(rows, EscalationRow{
			DecisionID: d.ID, ConflictID: d.ConflictID,
			Reason: d.ReasoningSummary, CreatedAt: formatTime(d.CreatedAt),
		})
	}

	sliced, meta := paginate(rows, page, pageSize)
	return sliced, meta, nil
}
