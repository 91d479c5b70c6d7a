package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func scanArbitrationPolicy(row interface {
	Scan(dest ...interface{}) error
}) (*store.ArbitrationPolicy, error) {
	var p store.ArbitrationPolicy
	var scope, strategy string
	var scopeAgent, scopePref sql.NullString
	var priorityOrder, weights, vetoRules, escalationRule string
	err := row.Scan(&p.ID, &scope, &scopeAgent, &scopePref, &strategy, &priorityOrder, &weights,
		&vetoRules, &escalationRule, &p.IsDefault)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	p.Scope = store.ArbitrationScope(scope)
	p.ResolutionStrategy = store.ResolutionStrategy(strategy)
	p.ScopeAgentName = scopeAgent.String
	p.ScopePreferenceKey = scopePref.String
	_ = fromJSON(priorityOrder, &p.PriorityOrder)
	_ = fromJSON(weights, &p.Weights)
	_ = fromJSON(vetoRules, &p.VetoRules)
	_ = fromJSON(escalationRule, &p.EscalationRule)
	return &p, nil
}

const arbPolicyCols = `id, scope, scope_agent_name, scope_preference_key, resolution_strategy,
	priority_order, weights, veto_rules, escalation_rule, is_default`

func (s *Store) GetArbitrationPolicy(ctx context.Context, id string) (*store.ArbitrationPolicy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+arbPolicyCols+` FROM arbitration_policies WHERE id = ?`, id)
	return scanArbitrationPolicy(row)
}

func (s *Store) PutArbitrationPolicy(ctx context.Context, p store.ArbitrationPolicy) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO arbitration_policies (`+arbPolicyCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			scope_agent_name = excluded.scope_agent_name,
			scope_preference_key = excluded.scope_preference_key,
			resolution_strategy = excluded.resolution_strategy,
			priority_order = excluded.priority_order,
			weights = excluded.weights,
			veto_rules = excluded.veto_rules,
			escalation_rule = excluded.escalation_rule,
			is_default = excluded.is_default`,
		p.ID, string(p.Scope), nullStr(p.ScopeAgentName), nullStr(p.ScopePreferenceKey),
		string(p.ResolutionStrategy), toJSON(p.PriorityOrder), toJSON(p.Weights), toJSON(p.VetoRules),
		toJSON(p.EscalationRule), p.IsDefault)
	return err
}

func (s *Store) ListArbitrationPolicies(ctx context.Context) ([]store.ArbitrationPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+arbPolicyCols+` FROM arbitration_policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ArbitrationPolicy, 0)
	for rows.Next() {
		p, err := scanArbitrationPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ResolvePolicy mirrors memory.Store's specificity order: preference scope,
// then agent scope across agentNames, then the global default.
func (s *Store) ResolvePolicy(ctx context.Context, agentNames []string, preferenceKey string) (*store.ArbitrationPolicy, error) {
	if preferenceKey != "" {
		row := s.db.QueryRowContext(ctx, `SELECT `+arbPolicyCols+` FROM arbitration_policies
			WHERE scope = 'preference' AND scope_preference_key = ? LIMIT 1`, preferenceKey)
		if p, err := scanArbitrationPolicy(row); err == nil {
			return p, nil
		}
	}
	for _, name := range agentNames {
		row := s.db.QueryRowContext(ctx, `SELECT `+arbPolicyCols+` FROM arbitration_policies
			WHERE scope = 'agent' AND scope_agent_name = ? LIMIT 1`, name)
		if p, err := scanArbitrationPolicy(row); err == nil {
			return p, nil
		}
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+arbPolicyCols+` FROM arbitration_policies
		WHERE scope = 'global' AND is_default = 1 LIMIT 1`)
	return scanArbitrationPolicy(row)
}

func scanArbitrationDecision(row interface {
	Scan(dest ...interface{}) error
}) (*store.ArbitrationDecision, error) {
	var d store.ArbitrationDecision
	var policyID, winningProposalID, reasoningSummary, executedBy, selectedProposalID sql.NullString
	var outcome, strategy string
	var suppressed, vetoed, factors string
	err := row.Scan(&d.ID, &d.ConflictID, &policyID, &strategy, &outcome, &winningProposalID,
		&suppressed, &vetoed, &factors, &reasoningSummary, &d.RequiresHumanApproval, &d.Executed,
		&executedBy, &selectedProposalID, &d.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	d.PolicyID = policyID.String
	d.StrategyUsed = store.ResolutionStrategy(strategy)
	d.Outcome = store.ArbitrationOutcome(outcome)
	d.WinningProposalID = winningProposalID.String
	d.ReasoningSummary = reasoningSummary.String
	d.ExecutedBy = executedBy.String
	d.SelectedProposalID = selectedProposalID.String
	_ = fromJSON(suppressed, &d.SuppressedProposalIDs)
	_ = fromJSON(vetoed, &d.VetoedProposalIDs)
	_ = fromJSON(factors, &d.DecisionFactors)
	return &d, nil
}

const arbDecisionCols = `id, conflict_id, policy_id, strategy_used, outcome, winning_proposal_id,
	suppressed_ids, vetoed_ids, decision_factors, reasoning_summary, requires_human, executed,
	executed_by, selected_proposal_id, created_at`

func (s *Store) CreateArbitrationDecision(ctx context.Context, d store.ArbitrationDecision) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO arbitration_decisions (`+arbDecisionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ConflictID, nullStr(d.PolicyID), string(d.StrategyUsed), string(d.Outcome),
		nullStr(d.WinningProposalID), toJSON(d.SuppressedProposalIDs), toJSON(d.VetoedProposalIDs),
		toJSON(d.DecisionFactors), nullStr(d.ReasoningSummary), d.RequiresHumanApproval, d.Executed,
		nullStr(d.ExecutedBy), nullStr(d.SelectedProposalID), d.CreatedAt)
	return err
}

func (s *Store) GetArbitrationDecision(ctx context.Context, id string) (*store.ArbitrationDecision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+arbDecisionCols+` FROM arbitration_decisions WHERE id = ?`, id)
	return scanArbitrationDecision(row)
}

func (s *Store) UpdateArbitrationDecision(ctx context.Context, d store.ArbitrationDecision) error {
	res, err := s.db.ExecContext(ctx, `UPDATE arbitration_decisions SET conflict_id=?, policy_id=?, strategy_used=?,
		outcome=?, winning_proposal_id=?, suppressed_ids=?, vetoed_ids=?, decision_factors=?, reasoning_summary=?,
		requires_human=?, executed=?, executed_by=?, selected_proposal_id=? WHERE id = ?`,
		d.ConflictID, nullStr(d.PolicyID), string(d.StrategyUsed), string(d.Outcome), nullStr(d.WinningProposalID),
		toJSON(d.SuppressedProposalIDs), toJSON(d.VetoedProposalIDs), toJSON(d.DecisionFactors),
		nullStr(d.ReasoningSummary), d.RequiresHumanApproval, d.Executed, nullStr(d.ExecutedBy),
		nullStr(d.SelectedProposalID), d.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListArbitrationDecisions(ctx context.Context, limit, offset int) ([]store.ArbitrationDecision, error) {
	query := `SELECT ` + arbDecisionCols + ` FROM arbitration_decisions ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ArbitrationDecision, 0)
	for rows.Next() {
		d, err := scanArbitrationDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
