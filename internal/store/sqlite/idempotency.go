package sqlite

import (
	"context"
	"database/sql"

	"github.com/prefctl/prefctl/internal/store"
)

func (s *Store) Get(ctx context.Context, key string) (*store.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, status_code, body, headers, expires_at, in_progress
		FROM idempotency_records WHERE key = ?`, key)
	return scanIdempotency(row)
}

func scanIdempotency(row *sql.Row) (*store.IdempotencyRecord, error) {
	var r store.IdempotencyRecord
	var statusCode sql.NullInt64
	var headers string
	var expiresAt sql.NullTime
	err := row.Scan(&r.Key, &statusCode, &r.Body, &headers, &expiresAt, &r.InProgress)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	r.StatusCode = int(statusCode.Int64)
	_ = fromJSON(headers, &r.Headers)
	if expiresAt.Valid {
		r.ExpiresAt = expiresAt.Time
	}
	return &r, nil
}

// Begin claims key with an INSERT OR IGNORE so only one caller wins the
// race, mirroring the teacher's approval.Queue "claim by map insert" idiom
// but backed by SQLite's own conflict resolution instead of an in-process
// mutex.
func (s *Store) Begin(ctx context.Context, key string) (*store.IdempotencyRecord, bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO idempotency_records (key, in_progress)
		VALUES (?, 1)`, key)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return nil, true, nil
	}
	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) Complete(ctx context.Context, rec store.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO idempotency_records (key, status_code, body, headers, expires_at, in_progress)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			body = excluded.body,
			headers = excluded.headers,
			expires_at = excluded.expires_at,
			in_progress = 0`,
		rec.Key, rec.StatusCode, rec.Body, toJSON(rec.Headers), rec.ExpiresAt)
	return err
}
