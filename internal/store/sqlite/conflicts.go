package sqlite

import (
	"context"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) CreateConflict(ctx context.Context, c store.Conflict) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO conflicts (id, proposal_ids, conflict_type, target, description, resolved)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, toJSON(c.ProposalIDs), string(c.ConflictType), c.Target, nullStr(c.Description), c.Resolved)
	return err
}

func scanConflict(row interface {
	Scan(dest ...interface{}) error
}) (*store.Conflict, error) {
	var c store.Conflict
	var proposalIDs, description string
	var conflictType string
	err := row.Scan(&c.ID, &proposalIDs, &conflictType, &c.Target, &description, &c.Resolved)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	c.ConflictType = store.ConflictType(conflictType)
	c.Description = description
	_ = fromJSON(proposalIDs, &c.ProposalIDs)
	return &c, nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*store.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, proposal_ids, conflict_type, target, description, resolved
		FROM conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

func (s *Store) UpdateConflict(ctx context.Context, c store.Conflict) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conflicts SET proposal_ids=?, conflict_type=?, target=?, description=?,
		resolved=? WHERE id = ?`,
		toJSON(c.ProposalIDs), string(c.ConflictType), c.Target, nullStr(c.Description), c.Resolved, c.ID)
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

func (s *Store) ListUnresolved(ctx context.Context) ([]store.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, proposal_ids, conflict_type, target, description, resolved
		FROM conflicts WHERE resolved = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
