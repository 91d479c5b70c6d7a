package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) CreateAttempt(ctx context.Context, a store.AutoAdaptationAttempt) error {
	prev, err := jsonValue(a.PreviousValue)
	if err != nil {
		return err
	}
	sug, err := jsonValue(a.SuggestedValue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(id, agent_name, suggestion_id, category, key, previous_value, suggested_value, confidence,
		 risk_level, result, block_reason, policy_id, policy_snapshot, ts, rolled_back, rolled_back_at, rollback_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentName, nullStr(a.SuggestionID), a.Category, a.Key, prev, sug, a.Confidence,
		string(a.RiskLevel), string(a.Result), nullStr(a.BlockReason), nullStr(a.PolicyID),
		toJSON(a.PolicySnapshot), a.Timestamp, a.RolledBack, nullTime(a.RolledBackAt), nullStr(a.RollbackReason))
	return err
}

func scanAttempt(row interface {
	Scan(dest ...interface{}) error
}) (*store.AutoAdaptationAttempt, error) {
	var a store.AutoAdaptationAttempt
	var suggestionID, blockReason, policyID, rollbackReason sql.NullString
	var prev, sug, snapshot sql.NullString
	var risk, result string
	var rolledBackAt sql.NullTime
	err := row.Scan(&a.ID, &a.AgentName, &suggestionID, &a.Category, &a.Key, &prev, &sug, &a.Confidence,
		&risk, &result, &blockReason, &policyID, &snapshot, &a.Timestamp, &a.RolledBack, &rolledBackAt, &rollbackReason)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	a.SuggestionID = suggestionID.String
	a.BlockReason = blockReason.String
	a.PolicyID = policyID.String
	a.RollbackReason = rollbackReason.String
	a.RiskLevel = store.RiskLevel(risk)
	a.Result = store.AttemptResult(result)
	if v, err := unmarshalValue(prev); err == nil {
		a.PreviousValue = v
	}
	if v, err := unmarshalValue(sug); err == nil {
		a.SuggestedValue = v
	}
	_ = fromJSON(snapshot.String, &a.PolicySnapshot)
	a.RolledBackAt = timePtr(rolledBackAt)
	return &a, nil
}

const attemptCols = `id, agent_name, suggestion_id, category, key, previous_value, suggested_value, confidence,
	risk_level, result, block_reason, policy_id, policy_snapshot, ts, rolled_back, rolled_back_at, rollback_reason`

func (s *Store) GetAttempt(ctx context.Context, id string) (*store.AutoAdaptationAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id = ?`, id)
	return scanAttempt(row)
}

func (s *Store) UpdateAttempt(ctx context.Context, a store.AutoAdaptationAttempt) error {
	prev, err := jsonValue(a.PreviousValue)
	if err != nil {
		return err
	}
	sug, err := jsonValue(a.SuggestedValue)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET agent_name=?, suggestion_id=?, category=?, key=?,
		previous_value=?, suggested_value=?, confidence=?, risk_level=?, result=?, block_reason=?, policy_id=?,
		policy_snapshot=?, ts=?, rolled_back=?, rolled_back_at=?, rollback_reason=? WHERE id = ?`,
		a.AgentName, nullStr(a.SuggestionID), a.Category, a.Key, prev, sug, a.Confidence, string(a.RiskLevel),
		string(a.Result), nullStr(a.BlockReason), nullStr(a.PolicyID), toJSON(a.PolicySnapshot), a.Timestamp,
		a.RolledBack, nullTime(a.RolledBackAt), nullStr(a.RollbackReason), a.ID)
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

func (s *Store) ListAttempts(ctx context.Context, agentName string, limit, offset int) ([]store.AutoAdaptationAttempt, error) {
	query := `SELECT ` + attemptCols + ` FROM attempts WHERE 1=1`
	args := []interface{}{}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY ts DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.AutoAdaptationAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ListAttemptsSince(ctx context.Context, agentName string, sinceUnixMs int64) ([]store.AutoAdaptationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE agent_name = ? ORDER BY ts ASC`, agentName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.AutoAdaptationAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		if a.Timestamp.UnixMilli() >= sinceUnixMs {
			out = append(out, *a)
		}
	}
	return out, rows.Err()
}
