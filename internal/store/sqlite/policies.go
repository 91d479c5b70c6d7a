package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) GetAgentPolicy(ctx context.Context, agentName string) (*store.AgentPolicy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT agent_name, max_suggestions, confidence_threshold, cooldown_ms,
		ai_enabled, fallback_to_rules FROM agent_policies WHERE agent_name = ?`, agentName)
	var p store.AgentPolicy
	err := row.Scan(&p.AgentName, &p.MaxSuggestionsPerEvent, &p.ConfidenceThreshold, &p.CooldownMs,
		&p.AIEnabled, &p.FallbackToRules)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &p, nil
}

func (s *Store) PutAgentPolicy(ctx context.Context, p store.AgentPolicy) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agent_policies
		(agent_name, max_suggestions, confidence_threshold, cooldown_ms, ai_enabled, fallback_to_rules)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			max_suggestions = excluded.max_suggestions,
			confidence_threshold = excluded.confidence_threshold,
			cooldown_ms = excluded.cooldown_ms,
			ai_enabled = excluded.ai_enabled,
			fallback_to_rules = excluded.fallback_to_rules`,
		p.AgentName, p.MaxSuggestionsPerEvent, p.ConfidenceThreshold, p.CooldownMs, p.AIEnabled, p.FallbackToRules)
	return err
}

func scanAdaptationPolicy(row interface {
	Scan(dest ...interface{}) error
}) (*store.AdaptationPolicy, error) {
	var p store.AdaptationPolicy
	var mode string
	var risks, rateLimit, scopeRestrictions string
	var lastAuto, windowStarted sql.NullTime
	err := row.Scan(&p.ID, &p.AgentName, &mode, &p.UserOptedIn, &p.MinConfidence, &risks, &p.CooldownMs,
		&rateLimit, &lastAuto, &p.CurrentWindowCount, &windowStarted, &scopeRestrictions)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	p.Mode = store.AdaptationMode(mode)
	_ = fromJSON(risks, &p.AllowedRiskLevels)
	_ = fromJSON(rateLimit, &p.RateLimit)
	_ = fromJSON(scopeRestrictions, &p.ScopeRestrictions)
	p.LastAutoAdaptAt = timePtr(lastAuto)
	p.WindowStartedAt = timePtr(windowStarted)
	return &p, nil
}

func (s *Store) GetAdaptationPolicy(ctx context.Context, id string) (*store.AdaptationPolicy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_name, mode, user_opted_in, min_confidence,
		allowed_risk_levels, cooldown_ms, rate_limit, last_auto_adapt_at, window_count, window_started_at,
		scope_restrictions FROM adaptation_policies WHERE id = ?`, id)
	return scanAdaptationPolicy(row)
}

func (s *Store) GetAdaptationPolicyForAgent(ctx context.Context, agentName string) (*store.AdaptationPolicy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_name, mode, user_opted_in, min_confidence,
		allowed_risk_levels, cooldown_ms, rate_limit, last_auto_adapt_at, window_count, window_started_at,
		scope_restrictions FROM adaptation_policies WHERE agent_name = ? LIMIT 1`, agentName)
	return scanAdaptationPolicy(row)
}

func (s *Store) PutAdaptationPolicy(ctx context.Context, p store.AdaptationPolicy) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO adaptation_policies
		(id, agent_name, mode, user_opted_in, min_confidence, allowed_risk_levels, cooldown_ms,
		 rate_limit, last_auto_adapt_at, window_count, window_started_at, scope_restrictions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name,
			mode = excluded.mode,
			user_opted_in = excluded.user_opted_in,
			min_confidence = excluded.min_confidence,
			allowed_risk_levels = excluded.allowed_risk_levels,
			cooldown_ms = excluded.cooldown_ms,
			rate_limit = excluded.rate_limit,
			last_auto_adapt_at = excluded.last_auto_adapt_at,
			window_count = excluded.window_count,
			window_started_at = excluded.window_started_at,
			scope_restrictions = excluded.scope_restrictions`,
		p.ID, p.AgentName, string(p.Mode), p.UserOptedIn, p.MinConfidence, toJSON(p.AllowedRiskLevels),
		p.CooldownMs, toJSON(p.RateLimit), nullTime(p.LastAutoAdaptAt), p.CurrentWindowCount,
		nullTime(p.WindowStartedAt), toJSON(p.ScopeRestrictions))
	return err
}

func (s *Store) ListAdaptationPolicies(ctx context.Context) ([]store.AdaptationPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_name, mode, user_opted_in, min_confidence,
		allowed_risk_levels, cooldown_ms, rate_limit, last_auto_adapt_at, window_count, window_started_at,
		scope_restrictions FROM adaptation_policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.AdaptationPolicy, 0)
	for rows.Next() {
		p, err := scanAdaptationPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
