package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

const proposalCols = `id, agent_name, action_type, target_type, target_id, target_key, proposed_value,
	confidence_score, cost_estimate, risk_level, originating_event_id, suggestion_id, status, decision_id, created_at`

func (s *Store) CreateProposal(ctx context.Context, p store.AgentActionProposal) error {
	val, err := jsonValue(p.ProposedValue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO proposals (`+proposalCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentName, p.ActionType, p.TargetRef.Type, p.TargetRef.ID, nullStr(p.TargetRef.Key), val,
		p.ConfidenceScore, p.CostEstimate, string(p.RiskLevel), nullStr(p.OriginatingEventID),
		nullStr(p.SuggestionID), string(p.Status), nullStr(p.DecisionID), p.CreatedAt)
	return err
}

func scanProposal(row interface {
	Scan(dest ...interface{}) error
}) (*store.AgentActionProposal, error) {
	var p store.AgentActionProposal
	var targetKey, val, originatingEventID, suggestionID, decisionID sql.NullString
	var status, risk string
	err := row.Scan(&p.ID, &p.AgentName, &p.ActionType, &p.TargetRef.Type, &p.TargetRef.ID, &targetKey, &val,
		&p.ConfidenceScore, &p.CostEstimate, &risk, &originatingEventID, &suggestionID, &status, &decisionID, &p.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	p.TargetRef.Key = targetKey.String
	p.RiskLevel = store.RiskLevel(risk)
	p.Status = store.ProposalStatus(status)
	p.OriginatingEventID = originatingEventID.String
	p.SuggestionID = suggestionID.String
	p.DecisionID = decisionID.String
	if v, err := unmarshalValue(val); err == nil {
		p.ProposedValue = v
	}
	return &p, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*store.AgentActionProposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE id = ?`, id)
	return scanProposal(row)
}

func (s *Store) UpdateProposal(ctx context.Context, p store.AgentActionProposal) error {
	val, err := jsonValue(p.ProposedValue)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE proposals SET agent_name=?, action_type=?, target_type=?, target_id=?,
		target_key=?, proposed_value=?, confidence_score=?, cost_estimate=?, risk_level=?, originating_event_id=?,
		suggestion_id=?, status=?, decision_id=? WHERE id = ?`,
		p.AgentName, p.ActionType, p.TargetRef.Type, p.TargetRef.ID, nullStr(p.TargetRef.Key), val,
		p.ConfidenceScore, p.CostEstimate, string(p.RiskLevel), nullStr(p.OriginatingEventID),
		nullStr(p.SuggestionID), string(p.Status), nullStr(p.DecisionID), p.ID)
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

func (s *Store) ListPendingByTarget(ctx context.Context, targetKey string) ([]store.AgentActionProposal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+proposalCols+` FROM proposals
		WHERE status = ? ORDER BY created_at ASC`, string(store.ProposalPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.AgentActionProposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		if p.TargetRef.GroupKey() == targetKey {
			out = append(out, *p)
		}
	}
	return out, rows.Err()
}

func (s *Store) ListProposals(ctx context.Context, agentName string, status store.ProposalStatus, limit, offset int) ([]store.AgentActionProposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE 1=1`
	args := []interface{}{}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.AgentActionProposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
