package repo

import (
	"context"
	"database/sql"
	"errors"
)

type SessionRecord struct {
	ID        string
	ActorID   string
	CreatedAt string
	ExpiresAt string
	RevokedAt *string
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s SessionRecord) error {
	if s.ID == "" || s.ActorID == "" {
		return errors.New("session id and actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,actor_id,created_at,expires_at) VALUES (?,?,?,?)`,
		s.ID, s.ActorID, s.CreatedAt, s.ExpiresAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var s SessionRecord
	var revoked sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,actor_id,created_at,expires_at,revoked_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.ActorID, &s.CreatedAt, &s.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if revoked.Valid {
		s.RevokedAt = &revoked.String
	}
	return s, err
}

// RevokeSession marks a session closed. Revoking twice keeps the first timestamp.
func (r Repo) RevokeSession(ctx context.Context, tx *sql.Tx, id, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at=COALESCE(revoked_at, ?) WHERE id=?`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
