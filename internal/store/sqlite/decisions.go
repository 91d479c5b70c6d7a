package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) CreateDecision(ctx context.Context, d store.DecisionRecord) error {
	var aiJSON sql.NullString
	if d.AI != nil {
		aiJSON = sql.NullString{String: toJSON(d.AI), Valid: true}
	}
	var outcomeJSON sql.NullString
	if d.Outcome != nil {
		outcomeJSON = sql.NullString{String: toJSON(d.Outcome), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions
		(id, agent_name, event_type, event_id, aggregate_type, aggregate_id, decision_type,
		 reasoning_source, content, ai_metadata, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AgentName, nullStr(d.TriggeringEventType), nullStr(d.TriggeringEventID),
		nullStr(d.AggregateType), nullStr(d.AggregateID), d.DecisionType, string(d.ReasoningSource),
		toJSON(d.DecisionContent), aiJSON, outcomeJSON, d.CreatedAt)
	return err
}

func scanDecision(row interface {
	Scan(dest ...interface{}) error
}) (*store.DecisionRecord, error) {
	var d store.DecisionRecord
	var eventType, eventID, aggType, aggID, content, aiJSON, outcomeJSON sql.NullString
	var reasoning string
	err := row.Scan(&d.ID, &d.AgentName, &eventType, &eventID, &aggType, &aggID, &d.DecisionType,
		&reasoning, &content, &aiJSON, &outcomeJSON, &d.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	d.TriggeringEventType = eventType.String
	d.TriggeringEventID = eventID.String
	d.AggregateType = aggType.String
	d.AggregateID = aggID.String
	d.ReasoningSource = store.ReasoningSource(reasoning)
	_ = fromJSON(content.String, &d.DecisionContent)
	if aiJSON.Valid {
		var ai store.AIMetadata
		if err := fromJSON(aiJSON.String, &ai); err == nil {
			d.AI = &ai
		}
	}
	if outcomeJSON.Valid {
		var o store.DecisionOutcome
		if err := fromJSON(outcomeJSON.String, &o); err == nil {
			d.Outcome = &o
		}
	}
	return &d, nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (*store.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_name, event_type, event_id, aggregate_type, aggregate_id,
		decision_type, reasoning_source, content, ai_metadata, outcome, created_at FROM decisions WHERE id = ?`, id)
	return scanDecision(row)
}

func (s *Store) UpdateOutcome(ctx context.Context, id string, outcome store.DecisionOutcome) error {
	res, err := s.db.ExecContext(ctx, `UPDATE decisions SET outcome = ? WHERE id = ?`, toJSON(outcome), id)
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

func (s *Store) ListDecisions(ctx context.Context, agentName string, limit, offset int) ([]store.DecisionRecord, error) {
	query := `SELECT id, agent_name, event_type, event_id, aggregate_type, aggregate_id,
		decision_type, reasoning_source, content, ai_metadata, outcome, created_at FROM decisions WHERE 1=1`
	args := []interface{}{}
	if agentName != "" {
		query += ` AND agent_name = ?`
		args = append(args, agentName)
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

	out := make([]store.DecisionRecord, 0)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
