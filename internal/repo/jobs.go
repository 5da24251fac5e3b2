package repo

import (
	"context"
	"database/sql"

	"refportal/internal/domain"
)

const jobColumns = `id,job_code,title,department,is_active,COALESCE(created_by,''),created_at,updated_at`

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var active int
	err := row.Scan(&j.ID, &j.Code, &j.Title, &j.Department, &active, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	j.IsActive = active == 1
	return j, err
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,job_code,title,department,is_active,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.Code, j.Title, j.Department, boolInt(j.IsActive), nullable(j.CreatedBy), j.CreatedAt, j.UpdatedAt)
	return conflict(err, "job code "+j.Code)
}

// UpdateJob rewrites the descriptive fields; is_active goes through SetJobActive.
func (r Repo) UpdateJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET job_code=?, title=?, department=?, updated_at=? WHERE id=?`,
		j.Code, j.Title, j.Department, j.UpdatedAt, j.ID)
	if err != nil {
		return conflict(err, "job code "+j.Code)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetJobActive(ctx context.Context, tx *sql.Tx, id string, active bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=? OR job_code=? LIMIT 1`, id, id))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=? OR job_code=? LIMIT 1`, id, id))
}

// ListJobs orders by job code.
func (r Repo) ListJobs(ctx context.Context, activeOnly bool) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY job_code`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE is_active=1`).Scan(&n)
	return n, err
}
