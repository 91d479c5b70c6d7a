package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) CreateSuggestion(ctx context.Context, sp store.SuggestedPreference) error {
	cur, err := jsonValue(sp.CurrentValue)
	if err != nil {
		return err
	}
	sug, err := jsonValue(sp.SuggestedValue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO suggestions
		(id, agent_name, category, key, current_value, suggested_value, confidence, reason, learned_from, suggested_at, status, reject_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.SuggestionID, sp.AgentName, sp.Category, sp.Key, cur, sug, sp.Confidence,
		nullStr(sp.Reason), toJSON(sp.LearnedFrom), sp.SuggestedAt, string(sp.Status), nullStr(sp.RejectReason))
	return err
}

func (s *Store) scanSuggestion(row *sql.Row) (*store.SuggestedPreference, error) {
	var sp store.SuggestedPreference
	var cur, sug, reason, learnedFrom, rejectReason sql.NullString
	var status string
	err := row.Scan(&sp.SuggestionID, &sp.AgentName, &sp.Category, &sp.Key, &cur, &sug,
		&sp.Confidence, &reason, &learnedFrom, &sp.SuggestedAt, &status, &rejectReason)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	sp.Status = store.SuggestionStatus(status)
	sp.Reason = reason.String
	sp.RejectReason = rejectReason.String
	if v, err := unmarshalValue(cur); err == nil {
		sp.CurrentValue = v
	}
	if v, err := unmarshalValue(sug); err == nil {
		sp.SuggestedValue = v
	}
	_ = fromJSON(learnedFrom.String, &sp.LearnedFrom)
	return &sp, nil
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*store.SuggestedPreference, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_name, category, key, current_value, suggested_value,
		confidence, reason, learned_from, suggested_at, status, reject_reason FROM suggestions WHERE id = ?`, id)
	return s.scanSuggestion(row)
}

func (s *Store) UpdateSuggestion(ctx context.Context, sp store.SuggestedPreference) error {
	cur, err := jsonValue(sp.CurrentValue)
	if err != nil {
		return err
	}
	sug, err := jsonValue(sp.SuggestedValue)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE suggestions SET agent_name=?, category=?, key=?, current_value=?,
		suggested_value=?, confidence=?, reason=?, learned_from=?, suggested_at=?, status=?, reject_reason=?
		WHERE id = ?`,
		sp.AgentName, sp.Category, sp.Key, cur, sug, sp.Confidence, nullStr(sp.Reason),
		toJSON(sp.LearnedFrom), sp.SuggestedAt, string(sp.Status), nullStr(sp.RejectReason), sp.SuggestionID)
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

func (s *Store) ListSuggestions(ctx context.Context, agentName string, status store.SuggestionStatus) ([]store.SuggestedPreference, error) {
	query := `SELECT id, agent_name, category, key, current_value, suggested_value,
		confidence, reason, learned_from, suggested_at, status, reject_reason FROM suggestions WHERE 1=1`
	args := []interface{}{}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY suggested_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.SuggestedPreference, 0)
	for rows.Next() {
		var sp store.SuggestedPreference
		var cur, sug, reason, learnedFrom, rejectReason sql.NullString
		var statusStr string
		if err := rows.Scan(&sp.SuggestionID, &sp.AgentName, &sp.Category, &sp.Key, &cur, &sug,
			&sp.Confidence, &reason, &learnedFrom, &sp.SuggestedAt, &statusStr, &rejectReason); err != nil {
			return nil, err
		}
		sp.Status = store.SuggestionStatus(statusStr)
		sp.Reason = reason.String
		sp.RejectReason = rejectReason.String
		if v, err := unmarshalValue(cur); err == nil {
			sp.CurrentValue = v
		}
		if v, err := unmarshalValue(sug); err == nil {
			sp.SuggestedValue = v
		}
		_ = fromJSON(learnedFrom.String, &sp.LearnedFrom)
		out = append(out, sp)
	}
	return out, rows.Err()
}
