package projection

import (
	"context"
	"fmt"
	"sort"
	"time"
)

const (
	defaultAuditWindow = 30 * 24 * time.Hour
	maxAuditWindow      = 90 * 24 * time.Hour
)

// AuditEntry is one row of the unified audit feed GET /audit (spec §6)
// serves: a decision record, a preference change, or an auto-adaptation
// attempt, normalized onto a common shape so the admin UI can render a
// single timeline.
type AuditEntry struct {
	Type      string // "decision", "preference_change", "adaptation_attempt"
	AgentName string
	Summary   string
	Detail    interface{}
	At        time.Time
}

// AuditFilter narrows the audit feed. An empty Since/Until defaults the
// window to the last 30 days; a span wider than 90 days is rejected, and
// Since after Until is rejected (spec §4.J "Audit endpoints... validate
// date ordering").
type AuditFilter struct {
	Since     time.Time
	Until     time.Time
	Type      string // "" = any of {decision, preference_change, adaptation_attempt}
	AgentName string
}

// resolveWindow applies spec §4.J's default-30-day/cap-90-day/ordering
// rules, returning the effective [since, until) bounds.
func resolveWindow(f AuditFilter, now time.Time) (time.Time, time.Time, error) {
	until := f.Until
	if until.IsZero() {
		until = now
	}
	since := f.Since
	if since.IsZero() {
		since = until.Add(-defaultAuditWindow)
	}
	if since.After(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("audit window invalid: since %s is after until %s", since, until)
	}
	if until.Sub(since) > maxAuditWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("audit window exceeds the 90-day cap: since %s until %s", since, until)
	}
	return since, until, nil
}

// Audit composes the unified, time-ordered audit feed (newest first)
// across decision records, preference changes, and auto-adaptation
// attempts, honoring AuditFilter's window/type/agent constraints.
func (s *Service) Audit(ctx context.Context, filter AuditFilter, now time.Time, page, pageSize int) ([]AuditEntry, Page, error) {
	since, until, err := resolveWindow(filter, now)
	if err != nil {
		return nil, Page{}, err
	}

	agents, err := s.agentsToScan(ctx, filter.AgentName)
	if err != nil {
		return nil, Page{}, err
	}

	var entries []AuditEntry

	if filter.Type == "" || filter.Type == "decision" {
		decisions, err := s.store.ListDecisions(ctx, filter.AgentName, 0, 0)
		if err != nil {
			return nil, Page{}, err
		}
		for _, d := range decisions {
			if inWindow(d.CreatedAt, since, until) {
				entries = append(entries, AuditEntry{
					Type: "decision", AgentName: d.AgentName,
					Summary: fmt.Sprintf("%s decided %s via %s", d.AgentName, d.DecisionType, d.ReasoningSource),
					Detail: d, At: d.CreatedAt,
				})
			}
		}
	}

	if filter.Type == "" || filter.Type == "preference_change" {
		for _, name := range agents {
			profile, err := s.store.GetProfile(ctx, name)
			if err != nil {
				return nil, Page{}, err
			}
			for _, c := range profile.Changes {
				if inWindow(c.ChangedAt, since, until) {
					entries = append(entries, AuditEntry{
						Type: "preference_change", AgentName: name,
						Summary: fmt.Sprintf("%s.%s changed via %s", c.Category, c.Key, c.Source),
						Detail: c, At: c.ChangedAt,
					})
				}
			}
		}
	}

	if filter.Type == "" || filter.Type == "adaptation_attempt" {
		for _, name := range agents {
			attempts, err := s.store.ListAttempts(ctx, name, 0, 0)
			if err != nil {
				return nil, Page{}, err
			}
			for _, a := range attempts {
				if inWindow(a.Timestamp, since, until) {
					entries = append(entries, AuditEntry{
						Type: "adaptation_attempt", AgentName: name,
						Summary: fmt.Sprintf("%s.%s attempt %s", a.Category, a.Key, a.Result),
						Detail: a, At: a.Timestamp,
					})
				}
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].At.After(entries[j].At) })

	sliced, meta := paginate(entries, page, pageSize)
	return sliced, meta, nil
}

func inWindow(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}
