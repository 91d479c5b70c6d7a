// Package sqlite implements store.Store on SQLite, grounded on the
// teacher's internal/trace/sqlite.go schema-and-CRUD idiom: one
// CREATE-TABLE-IF-NOT-EXISTS schema string executed in Initialize, JSON
// columns for nested structures, and nullStr/jsonValue helpers around
// database/sql's NULL handling.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/prefctl/prefctl/internal/store"
)

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (and does not yet initialize) a SQLite-backed store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Initialize creates every table used by the decision plane if absent.
func (s *Store) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		agent_name   TEXT PRIMARY KEY,
		preferences  TEXT NOT NULL DEFAULT '[]',
		feedback     TEXT NOT NULL DEFAULT '[]',
		changes      TEXT NOT NULL DEFAULT '[]',
		total_feedback INTEGER NOT NULL DEFAULT 0,
		acceptance_rate REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS suggestions (
		id              TEXT PRIMARY KEY,
		agent_name      TEXT NOT NULL,
		category        TEXT NOT NULL,
		key             TEXT NOT NULL,
		current_value   TEXT,
		suggested_value TEXT,
		confidence      REAL NOT NULL,
		reason          TEXT,
		learned_from    TEXT NOT NULL DEFAULT '[]',
		suggested_at    DATETIME NOT NULL,
		status          TEXT NOT NULL,
		reject_reason   TEXT
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id               TEXT PRIMARY KEY,
		agent_name       TEXT NOT NULL,
		event_type       TEXT,
		event_id         TEXT,
		aggregate_type   TEXT,
		aggregate_id     TEXT,
		decision_type    TEXT NOT NULL,
		reasoning_source TEXT NOT NULL,
		content          TEXT NOT NULL DEFAULT '{}',
		ai_metadata      TEXT,
		outcome          TEXT,
		created_at       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_policies (
		agent_name       TEXT PRIMARY KEY,
		max_suggestions  INTEGER NOT NULL,
		confidence_threshold REAL NOT NULL,
		cooldown_ms      INTEGER NOT NULL,
		ai_enabled       BOOLEAN NOT NULL,
		fallback_to_rules BOOLEAN NOT NULL
	);

	CREATE TABLE IF NOT EXISTS adaptation_policies (
		id                 TEXT PRIMARY KEY,
		agent_name         TEXT NOT NULL,
		mode               TEXT NOT NULL,
		user_opted_in      BOOLEAN NOT NULL,
		min_confidence     REAL NOT NULL,
		allowed_risk_levels TEXT NOT NULL DEFAULT '[]',
		cooldown_ms        INTEGER NOT NULL,
		rate_limit         TEXT NOT NULL DEFAULT '{}',
		last_auto_adapt_at DATETIME,
		window_count       INTEGER NOT NULL DEFAULT 0,
		window_started_at  DATETIME,
		scope_restrictions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id              TEXT PRIMARY KEY,
		agent_name      TEXT NOT NULL,
		suggestion_id   TEXT,
		category        TEXT NOT NULL,
		key             TEXT NOT NULL,
		previous_value  TEXT,
		suggested_value TEXT,
		confidence      REAL NOT NULL,
		risk_level      TEXT NOT NULL,
		result          TEXT NOT NULL,
		block_reason    TEXT,
		policy_id       TEXT,
		policy_snapshot TEXT NOT NULL DEFAULT '{}',
		ts              DATETIME NOT NULL,
		rolled_back     BOOLEAN NOT NULL DEFAULT 0,
		rolled_back_at  DATETIME,
		rollback_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id               TEXT PRIMARY KEY,
		agent_name       TEXT NOT NULL,
		action_type      TEXT NOT NULL,
		target_type      TEXT NOT NULL,
		target_id        TEXT NOT NULL,
		target_key       TEXT,
		proposed_value   TEXT,
		confidence_score REAL NOT NULL,
		cost_estimate    REAL NOT NULL,
		risk_level       TEXT NOT NULL,
		originating_event_id TEXT,
		suggestion_id    TEXT,
		status           TEXT NOT NULL,
		decision_id      TEXT,
		created_at       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id            TEXT PRIMARY KEY,
		proposal_ids  TEXT NOT NULL DEFAULT '[]',
		conflict_type TEXT NOT NULL,
		target        TEXT NOT NULL,
		description   TEXT,
		resolved      BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS arbitration_policies (
		id                   TEXT PRIMARY KEY,
		scope                TEXT NOT NULL,
		scope_agent_name     TEXT,
		scope_preference_key TEXT,
		resolution_strategy  TEXT NOT NULL,
		priority_order       TEXT NOT NULL DEFAULT '[]',
		weights              TEXT NOT NULL DEFAULT '{}',
		veto_rules           TEXT NOT NULL DEFAULT '[]',
		escalation_rule      TEXT NOT NULL DEFAULT '{}',
		is_default           BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS arbitration_decisions (
		id                 TEXT PRIMARY KEY,
		conflict_id        TEXT NOT NULL,
		policy_id          TEXT,
		strategy_used      TEXT NOT NULL,
		outcome            TEXT NOT NULL,
		winning_proposal_id TEXT,
		suppressed_ids     TEXT NOT NULL DEFAULT '[]',
		vetoed_ids         TEXT NOT NULL DEFAULT '[]',
		decision_factors   TEXT NOT NULL DEFAULT '[]',
		reasoning_summary  TEXT,
		requires_human     BOOLEAN NOT NULL DEFAULT 0,
		executed           BOOLEAN NOT NULL DEFAULT 0,
		executed_by        TEXT,
		selected_proposal_id TEXT,
		created_at         DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS idempotency_records (
		key         TEXT PRIMARY KEY,
		status_code INTEGER,
		body        BLOB,
		headers     TEXT NOT NULL DEFAULT '{}',
		expires_at  DATETIME,
		in_progress BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_suggestions_agent ON suggestions(agent_name);
	CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_name);
	CREATE INDEX IF NOT EXISTS idx_attempts_agent ON attempts(agent_name);
	CREATE INDEX IF NOT EXISTS idx_proposals_agent ON proposals(agent_name);
	CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
	CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ store.Store = (*Store)(nil)

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func fromJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func jsonValue(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalValue(ns sql.NullString) (interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func wrapNotFound(err error) error {
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	return err
}
