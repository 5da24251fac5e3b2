package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"refportal/internal/domain"
)

const referralSelect = `SELECT r.id,r.job_id,r.referrer_id,r.candidate_first_name,COALESCE(r.candidate_middle_name,''),r.candidate_last_name,
r.candidate_phone,r.candidate_email,r.candidate_dob,r.how_know_candidate,r.resume_ref,r.current_status,r.created_at,r.updated_at,
j.job_code,j.title,j.department,a.name
FROM referrals r JOIN jobs j ON j.id=r.job_id JOIN actors a ON a.id=r.referrer_id`

func scanReferral(row rowScanner) (domain.Referral, error) {
	var ref domain.Referral
	var resume sql.NullString
	c := &ref.Candidate
	err := row.Scan(&ref.ID, &ref.JobID, &ref.ReferrerID, &c.FirstName, &c.MiddleName, &c.LastName,
		&c.Phone, &c.Email, &c.DOB, &ref.HowKnowCandidate, &resume, &ref.CurrentStatus, &ref.CreatedAt, &ref.UpdatedAt,
		&ref.JobCode, &ref.JobTitle, &ref.JobDepartment, &ref.ReferrerName)
	if err == sql.ErrNoRows {
		return ref, ErrNotFound
	}
	if resume.Valid {
		ref.ResumeRef = &resume.String
	}
	return ref, err
}

// NewReferral is the insert shape of a referral. It has no status field:
// every referral starts as submitted.
type NewReferral struct {
	ID               string
	JobID            string
	ReferrerID       string
	Candidate        domain.Candidate
	HowKnowCandidate string
	ResumeRef        *string
	CreatedAt        string
}

// StatusChange is one entry to append to a referral's history.
type StatusChange struct {
	ID         string
	ReferralID string
	Status     domain.Status
	Note       *string
	ChangedBy  string
	At         string
}

// InsertReferral writes the referral row together with its initial
// submitted history entry.
func (r Repo) InsertReferral(ctx context.Context, tx *sql.Tx, ref NewReferral, historyID string) (domain.StatusHistoryEntry, error) {
	c := ref.Candidate
	_, err := tx.ExecContext(ctx, `INSERT INTO referrals(id,job_id,referrer_id,candidate_first_name,candidate_middle_name,candidate_last_name,candidate_phone,candidate_email,candidate_dob,how_know_candidate,resume_ref,current_status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ref.ID, ref.JobID, ref.ReferrerID, c.FirstName, nullable(c.MiddleName), c.LastName, c.Phone, c.Email, c.DOB,
		ref.HowKnowCandidate, nullableStringPtr(ref.ResumeRef), string(domain.StatusSubmitted), ref.CreatedAt, ref.CreatedAt)
	if err != nil {
		return domain.StatusHistoryEntry{}, fmt.Errorf("insert referral: %w", err)
	}
	return insertHistory(ctx, tx, StatusChange{
		ID:         historyID,
		ReferralID: ref.ID,
		Status:     domain.StatusSubmitted,
		ChangedBy:  ref.ReferrerID,
		At:         ref.CreatedAt,
	}, 1)
}

// AppendStatusHistory appends an entry and moves current_status to it.
// It is the only statement in the package that updates current_status.
func (r Repo) AppendStatusHistory(ctx context.Context, tx *sql.Tx, ch StatusChange) (domain.StatusHistoryEntry, error) {
	if !ch.Status.Valid() {
		return domain.StatusHistoryEntry{}, fmt.Errorf("invalid status %q", ch.Status)
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM referral_status_history WHERE referral_id=?`, ch.ReferralID).Scan(&seq); err != nil {
		return domain.StatusHistoryEntry{}, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE referrals SET current_status=?, updated_at=? WHERE id=?`, string(ch.Status), ch.At, ch.ReferralID)
	if err != nil {
		return domain.StatusHistoryEntry{}, fmt.Errorf("update current status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.StatusHistoryEntry{}, ErrNotFound
	}
	return insertHistory(ctx, tx, ch, seq+1)
}

func insertHistory(ctx context.Context, tx *sql.Tx, ch StatusChange, seq int) (domain.StatusHistoryEntry, error) {
	if ch.ID == "" || ch.ChangedBy == "" {
		return domain.StatusHistoryEntry{}, errors.New("history id and changed_by required")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO referral_status_history(id,referral_id,seq,status,note,changed_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		ch.ID, ch.ReferralID, seq, string(ch.Status), nullableStringPtr(ch.Note), ch.ChangedBy, ch.At); err != nil {
		return domain.StatusHistoryEntry{}, fmt.Errorf("insert status history: %w", err)
	}
	entry := domain.StatusHistoryEntry{
		ID:         ch.ID,
		ReferralID: ch.ReferralID,
		Seq:        seq,
		Status:     ch.Status,
		ChangedBy:  ch.ChangedBy,
		CreatedAt:  ch.At,
	}
	if ch.Note != nil && *ch.Note != "" {
		note := *ch.Note
		entry.Note = &note
	}
	return entry, nil
}

func (r Repo) GetReferral(ctx context.Context, id string) (domain.Referral, error) {
	return scanReferral(r.DB.QueryRowContext(ctx, referralSelect+` WHERE r.id=?`, id))
}

func (r Repo) GetReferralTx(ctx context.Context, tx *sql.Tx, id string) (domain.Referral, error) {
	return scanReferral(tx.QueryRowContext(ctx, referralSelect+` WHERE r.id=?`, id))
}

type ReferralFilters struct {
	ReferrerID string
	Status     domain.Status
	JobID      string
	Limit      int
}

// ListReferrals returns newest first.
func (r Repo) ListReferrals(ctx context.Context, f ReferralFilters) ([]domain.Referral, error) {
	var clauses []string
	var args []any
	if f.ReferrerID != "" {
		clauses = append(clauses, "r.referrer_id=?")
		args = append(args, f.ReferrerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "r.current_status=?")
		args = append(args, string(f.Status))
	}
	if f.JobID != "" {
		clauses = append(clauses, "r.job_id=?")
		args = append(args, f.JobID)
	}
	query := referralSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ref)
	}
	return res, rows.Err()
}

// ListStatusHistory returns a referral's entries oldest first.
func (r Repo) ListStatusHistory(ctx context.Context, referralID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT h.id,h.referral_id,h.seq,h.status,h.note,h.changed_by,COALESCE(a.name,''),h.created_at
FROM referral_status_history h LEFT JOIN actors a ON a.id=h.changed_by
WHERE h.referral_id=? ORDER BY h.seq ASC`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.ReferralID, &e.Seq, &e.Status, &note, &e.ChangedBy, &e.ChangedByName, &e.CreatedAt); err != nil {
			return nil, err
		}
		if note.Valid {
			e.Note = &note.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
