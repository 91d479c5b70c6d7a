package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) GetProfile(ctx context.Context, agentName string) (*store.AgentLearningProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT agent_name, preferences, feedback, changes, total_feedback, acceptance_rate
		FROM profiles WHERE agent_name = ?`, agentName)

	p := &store.AgentLearningProfile{AgentName: agentName}
	var prefsJSON, fbJSON, changesJSON string
	err := row.Scan(&p.AgentName, &prefsJSON, &fbJSON, &changesJSON, &p.TotalFeedbackReceived, &p.OverallAcceptanceRate)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(prefsJSON, &p.Preferences); err != nil {
		return nil, err
	}
	if err := fromJSON(fbJSON, &p.Feedback); err != nil {
		return nil, err
	}
	if err := fromJSON(changesJSON, &p.Changes); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) UpsertPreference(ctx context.Context, agentName string, pref store.UserPreference) error {
	p, err := s.GetProfile(ctx, agentName)
	if err != nil {
		return err
	}
	replaced := false
	for i, up := range p.Preferences {
		if up.Category == pref.Category && up.Key == pref.Key {
			p.Preferences[i] = pref
			replaced = true
			break
		}
	}
	if !replaced {
		p.Preferences = append(p.Preferences, pref)
	}
	return s.saveProfile(ctx, p)
}

func (s *Store) AppendFeedback(ctx context.Context, agentName string, fb store.FeedbackEntry) error {
	p, err := s.GetProfile(ctx, agentName)
	if err != nil {
		return err
	}
	p.Feedback = append(p.Feedback, fb)
	p.TotalFeedbackReceived++
	accepted := 0
	for _, f := range p.Feedback {
		if f.UserAccepted {
			accepted++
		}
	}
	p.OverallAcceptanceRate = float64(accepted) / float64(len(p.Feedback))
	return s.saveProfile(ctx, p)
}

func (s *Store) AppendChange(ctx context.Context, agentName string, change store.PreferenceChange) error {
	p, err := s.GetProfile(ctx, agentName)
	if err != nil {
		return err
	}
	p.Changes = append(p.Changes, change)
	return s.saveProfile(ctx, p)
}

func (s *Store) ListChanges(ctx context.Context, agentName, category, key string) ([]store.PreferenceChange, error) {
	p, err := s.GetProfile(ctx, agentName)
	if err != nil {
		return nil, err
	}
	out := make([]store.PreferenceChange, 0, len(p.Changes))
	for _, c := range p.Changes {
		if (category == "" || c.Category == category) && (key == "" || c.Key == key) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListAgentNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_name FROM profiles ORDER BY agent_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) saveProfile(ctx context.Context, p *store.AgentLearningProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (agent_name, preferences, feedback, changes, total_feedback, acceptance_rate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			preferences = excluded.preferences,
			feedback = excluded.feedback,
			changes = excluded.changes,
			total_feedback = excluded.total_feedback,
			acceptance_rate = excluded.acceptance_rate`,
		p.AgentName, toJSON(p.Preferences), toJSON(p.Feedback), toJSON(p.Changes),
		p.TotalFeedbackReceived, p.OverallAcceptanceRate)
	return err
}
