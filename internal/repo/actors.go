package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"refportal/internal/domain"
)

const actorColumns = `id,employee_code,name,email,role,is_active,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner, extra ...any) (domain.Actor, error) {
	var a domain.Actor
	var active int
	dest := append([]any{&a.ID, &a.EmployeeCode, &a.Name, &a.Email, &a.Role, &active, &a.CreatedAt, &a.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.IsActive = active == 1
	return a, err
}

// InsertActor stores an actor with an already hashed password.
func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor, passwordHash string) error {
	if a.ID == "" || passwordHash == "" {
		return errors.New("id and password hash required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id,employee_code,name,email,role,password_hash,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.EmployeeCode, a.Name, strings.ToLower(a.Email), string(a.Role), passwordHash, boolInt(a.IsActive), a.CreatedAt, a.UpdatedAt)
	return conflict(err, "actor")
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

// FindActorByLogin matches an email (any case) or an employee code and
// returns the actor with its password hash.
func (r Repo) FindActorByLogin(ctx context.Context, identifier string) (domain.Actor, string, error) {
	identifier = strings.TrimSpace(identifier)
	var hash string
	a, err := scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+`,password_hash FROM actors WHERE email=? COLLATE NOCASE OR employee_code=? LIMIT 1`,
		identifier, identifier), &hash)
	return a, hash, err
}

// ResolveActor accepts an id, email or employee code.
func (r Repo) ResolveActor(ctx context.Context, ref string) (domain.Actor, error) {
	ref = strings.TrimSpace(ref)
	return scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=? OR email=? COLLATE NOCASE OR employee_code=? LIMIT 1`, ref, ref, ref))
}

func (r Repo) ListActors(ctx context.Context, role domain.Role) ([]domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY employee_code`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetActorActive(ctx context.Context, tx *sql.Tx, id string, active bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountActors(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM actors WHERE role=?`, string(role)).Scan(&n)
	return n, err
}
