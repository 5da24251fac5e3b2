package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"refportal/internal/domain"
	"refportal/internal/engine/auth"
	"refportal/internal/events"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

type JobInput struct {
	Code       string
	Title      string
	Department string
	Inactive   bool
}

type JobPatch struct {
	Code       *string
	Title      *string
	Department *string
}

func normalizeJobCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateJob(j domain.Job) error {
	if j.Code == "" {
		return workflow.Invalid("job_code", "required")
	}
	if strings.ContainsAny(j.Code, " \t\n") {
		return workflow.Invalid("job_code", "must not contain spaces")
	}
	if j.Title == "" {
		return workflow.Invalid("title", "required")
	}
	if j.Department == "" {
		return workflow.Invalid("department", "required")
	}
	return nil
}

func (e Engine) CreateJob(ctx context.Context, s session.Session, in JobInput) (domain.Job, error) {
	if err := requireSession(s); err != nil {
		return domain.Job{}, err
	}
	if err := auth.RequireHR(s.Actor, "job.create"); err != nil {
		return domain.Job{}, err
	}
	now := e.timestamp()
	j := domain.Job{
		ID:         uuid.NewString(),
		Code:       normalizeJobCode(in.Code),
		Title:      strings.TrimSpace(in.Title),
		Department: strings.TrimSpace(in.Department),
		IsActive:   !in.Inactive,
		CreatedBy:  s.ActorID(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := validateJob(j); err != nil {
		return domain.Job{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, events.JobCreated, "job", j.ID, s.ActorID(), events.EventPayload{"job_code": j.Code, "is_active": j.IsActive}); err != nil {
		return domain.Job{}, err
	}
	if err := e.commit(tx, "commit job"); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func (e Engine) UpdateJob(ctx context.Context, s session.Session, id string, patch JobPatch) (domain.Job, error) {
	if err := requireSession(s); err != nil {
		return domain.Job{}, err
	}
	if err := auth.RequireHR(s.Actor, "job.update"); err != nil {
		return domain.Job{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, id)
	if err != nil {
		return domain.Job{}, err
	}
	changed := map[string]any{}
	if patch.Code != nil {
		j.Code = normalizeJobCode(*patch.Code)
		changed["job_code"] = j.Code
	}
	if patch.Title != nil {
		j.Title = strings.TrimSpace(*patch.Title)
		changed["title"] = j.Title
	}
	if patch.Department != nil {
		j.Department = strings.TrimSpace(*patch.Department)
		changed["department"] = j.Department
	}
	if len(changed) == 0 {
		return j, nil
	}
	if err := validateJob(j); err != nil {
		return domain.Job{}, err
	}
	j.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, events.JobUpdated, "job", j.ID, s.ActorID(), events.EventPayload(changed)); err != nil {
		return domain.Job{}, err
	}
	if err := e.commit(tx, "commit job"); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// SetJobActive opens or closes a job for new referrals. Existing referrals
// are untouched.
func (e Engine) SetJobActive(ctx context.Context, s session.Session, id string, active bool) (domain.Job, error) {
	if err := requireSession(s); err != nil {
		return domain.Job{}, err
	}
	if err := auth.RequireHR(s.Actor, "job.toggle"); err != nil {
		return domain.Job{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if j.IsActive == active {
		return j, nil
	}
	j.IsActive = active
	j.UpdatedAt = e.timestamp()
	if err := e.Repo.SetJobActive(ctx, tx, j.ID, active, j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	evt := events.JobDeactivated
	if active {
		evt = events.JobActivated
	}
	if err := e.Events.Append(ctx, tx, evt, "job", j.ID, s.ActorID(), nil); err != nil {
		return domain.Job{}, err
	}
	if err := e.commit(tx, "commit job"); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func (e Engine) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, true)
}

func (e Engine) ListAllJobs(ctx context.Context, s session.Session) ([]domain.Job, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if err := auth.RequireHR(s.Actor, "job.list_all"); err != nil {
		return nil, err
	}
	return e.Repo.ListJobs(ctx, false)
}

// GetJob returns inactive jobs only to hr.
func (e Engine) GetJob(ctx context.Context, s session.Session, id string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !j.IsActive && !s.IsHR() {
		return domain.Job{}, repo.ErrNotFound
	}
	return j, nil
}

func IsConflict(err error) bool {
	return errors.Is(err, repo.ErrConflict)
}
