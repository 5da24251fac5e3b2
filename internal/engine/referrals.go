package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"refportal/internal/attachment"
	"refportal/internal/domain"
	"refportal/internal/events"
	"refportal/internal/feed"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/view"
	"refportal/internal/workflow"
)

type ResumeUpload struct {
	Name string
	Data []byte
}

type ReferralCreateOptions struct {
	Candidate        domain.Candidate
	JobIDs           []string
	HowKnowCandidate string
	// ResumeRef points at a file already stored with UploadAttachment.
	ResumeRef string
	Resume    *ResumeUpload
}

// ReferralBatch holds the referrals created for one candidate, one per job.
type ReferralBatch struct {
	Referrals         []domain.Referral `json:"referrals"`
	AttachmentSkipped bool              `json:"attachment_skipped"`
	AttachmentError   string            `json:"attachment_error,omitempty"`
	attachmentErr     error
}

// AttachmentErr returns the skipped attachment cause, if any.
func (b ReferralBatch) AttachmentErr() error { return b.attachmentErr }

func normalizeCandidate(c domain.Candidate) domain.Candidate {
	return domain.Candidate{
		FirstName:  strings.TrimSpace(c.FirstName),
		MiddleName: strings.TrimSpace(c.MiddleName),
		LastName:   strings.TrimSpace(c.LastName),
		Phone:      strings.TrimSpace(c.Phone),
		Email:      strings.ToLower(strings.TrimSpace(c.Email)),
		DOB:        strings.TrimSpace(c.DOB),
	}
}

func validateCandidate(c domain.Candidate, today time.Time) error {
	if c.FirstName == "" {
		return workflow.Invalid("candidate.first_name", "required")
	}
	if c.LastName == "" {
		return workflow.Invalid("candidate.last_name", "required")
	}
	for field, v := range map[string]string{
		"candidate.first_name":  c.FirstName,
		"candidate.middle_name": c.MiddleName,
		"candidate.last_name":   c.LastName,
	} {
		if v != "" && !govalidator.StringLength(v, "1", "100") {
			return workflow.Invalid(field, "must be at most 100 characters")
		}
	}
	if c.Phone == "" {
		return workflow.Invalid("candidate.phone", "required")
	}
	if c.Email == "" {
		return workflow.Invalid("candidate.email", "required")
	}
	if !govalidator.StringLength(c.Email, "3", "255") || !govalidator.IsEmail(c.Email) {
		return workflow.Invalid("candidate.email", "invalid email address")
	}
	if c.DOB == "" {
		return workflow.Invalid("candidate.dob", "required")
	}
	dob, err := time.Parse("2006-01-02", c.DOB)
	if err != nil {
		return workflow.Invalid("candidate.dob", "must be YYYY-MM-DD")
	}
	if !dob.Before(today) {
		return workflow.Invalid("candidate.dob", "must be in the past")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateReferrals creates one referral per selected job, each starting with
// a submitted history entry. A resume that cannot be stored is skipped and
// reported on the batch.
func (e Engine) CreateReferrals(ctx context.Context, s session.Session, opts ReferralCreateOptions) (ReferralBatch, error) {
	if err := requireSession(s); err != nil {
		return ReferralBatch{}, err
	}
	cand := normalizeCandidate(opts.Candidate)
	if err := validateCandidate(cand, e.now().UTC()); err != nil {
		return ReferralBatch{}, err
	}
	how := strings.TrimSpace(opts.HowKnowCandidate)
	if how == "" {
		return ReferralBatch{}, workflow.Invalid("how_know_candidate", "required")
	}
	if max := e.cfg().Referrals.HowKnowMaxLength; max > 0 && utf8.RuneCountInString(how) > max {
		return ReferralBatch{}, workflow.Invalid("how_know_candidate", fmt.Sprintf("must be at most %d characters", max))
	}
	jobIDs := dedupe(opts.JobIDs)
	if len(jobIDs) == 0 {
		return ReferralBatch{}, workflow.Invalid("job_ids", "select at least one job")
	}
	jobs := make([]domain.Job, 0, len(jobIDs))
	for _, id := range jobIDs {
		j, err := e.Repo.GetJob(ctx, id)
		if isNotFound(err) {
			return ReferralBatch{}, workflow.Invalid("job_ids", "unknown job "+id)
		}
		if err != nil {
			return ReferralBatch{}, workflow.Persistence("load job", err)
		}
		if !j.IsActive {
			return ReferralBatch{}, workflow.Invalid("job_ids", "job "+j.Code+" is not open for referrals")
		}
		jobs = append(jobs, j)
	}

	var batch ReferralBatch
	resumeRef := e.resolveResume(ctx, s, opts, &batch)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReferralBatch{}, workflow.Persistence("begin", err)
	}
	defer tx.Rollback()
	now := e.timestamp()
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		id := uuid.NewString()
		if _, err := e.Repo.InsertReferral(ctx, tx, repo.NewReferral{
			ID:               id,
			JobID:            j.ID,
			ReferrerID:       s.ActorID(),
			Candidate:        cand,
			HowKnowCandidate: how,
			ResumeRef:        resumeRef,
			CreatedAt:        now,
		}, uuid.NewString()); err != nil {
			return ReferralBatch{}, workflow.Persistence("insert referral", err)
		}
		if err := e.Events.Append(ctx, tx, events.ReferralCreated, "referral", id, s.ActorID(), events.EventPayload{
			"job_id": j.ID, "job_code": j.Code, "status": string(domain.StatusSubmitted),
		}); err != nil {
			return ReferralBatch{}, workflow.Persistence("append event", err)
		}
		ids = append(ids, id)
	}
	if err := e.commit(tx, "commit referrals"); err != nil {
		return ReferralBatch{}, err
	}

	for _, id := range ids {
		ref, err := e.Repo.GetReferral(ctx, id)
		if err != nil {
			return ReferralBatch{}, workflow.Persistence("reload referral", err)
		}
		batch.Referrals = append(batch.Referrals, ref)
		e.publish(ctx, feed.Change{Kind: feed.KindReferralCreated, ReferralID: id, ReferrerID: s.ActorID()})
	}
	e.Metrics.IncReferralsCreated(len(ids))
	e.log().Infow("referrals created", "count", len(ids), "referrer_id", s.ActorID(), "attachment_skipped", batch.AttachmentSkipped)
	return batch, nil
}

// resolveResume stores or checks the resume and records a skip on batch.
func (e Engine) resolveResume(ctx context.Context, s session.Session, opts ReferralCreateOptions, batch *ReferralBatch) *string {
	var (
		ref  string
		name string
		err  error
	)
	switch {
	case opts.Resume != nil:
		name = opts.Resume.Name
		ref, err = e.storeAttachment(ctx, s.ActorID(), opts.Resume.Name, opts.Resume.Data)
	case strings.TrimSpace(opts.ResumeRef) != "":
		ref = strings.TrimSpace(opts.ResumeRef)
		name = ref
		if attachment.Owner(ref) != s.ActorID() {
			err = errors.New("resume belongs to another user")
		}
	default:
		return nil
	}
	if err != nil {
		attErr := &workflow.AttachmentError{Name: name, Err: err}
		batch.AttachmentSkipped = true
		batch.AttachmentError = attErr.Error()
		batch.attachmentErr = attErr
		e.Metrics.IncAttachmentFailure()
		e.log().Warnw("resume skipped", "referrer_id", s.ActorID(), "error", err)
		return nil
	}
	return &ref
}

// ListReferralsForActor returns every referral for hr and only the actor's
// own submissions otherwise.
func (e Engine) ListReferralsForActor(ctx context.Context, s session.Session) ([]domain.Referral, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	f := repo.ReferralFilters{}
	if !s.IsHR() {
		f.ReferrerID = s.ActorID()
	}
	refs, err := e.Repo.ListReferrals(ctx, f)
	if err != nil {
		return nil, workflow.Persistence("list referrals", err)
	}
	return refs, nil
}

type ReferralQuery struct {
	Referrals    []domain.Referral     `json:"referrals"`
	Total        int                   `json:"total"`
	StatusCounts map[domain.Status]int `json:"status_counts"`
}

// QueryReferrals filters the actor's visible referrals. Status counts cover
// the unfiltered set.
func (e Engine) QueryReferrals(ctx context.Context, s session.Session, c view.Criteria) (ReferralQuery, error) {
	refs, err := e.ListReferralsForActor(ctx, s)
	if err != nil {
		return ReferralQuery{}, err
	}
	c.IncludeReferrer = s.IsHR()
	filtered := view.Filter(refs, c)
	return ReferralQuery{
		Referrals:    filtered,
		Total:        len(refs),
		StatusCounts: view.StatusCounts(refs),
	}, nil
}

// GetReferral hides other people's referrals from employees as not found.
func (e Engine) GetReferral(ctx context.Context, s session.Session, id string) (domain.Referral, error) {
	if err := requireSession(s); err != nil {
		return domain.Referral{}, err
	}
	ref, err := e.Repo.GetReferral(ctx, id)
	if err != nil {
		return domain.Referral{}, err
	}
	if !s.IsHR() && ref.ReferrerID != s.ActorID() {
		return domain.Referral{}, repo.ErrNotFound
	}
	return ref, nil
}

func (e Engine) GetStatusHistory(ctx context.Context, s session.Session, referralID string) ([]domain.StatusHistoryEntry, error) {
	if _, err := e.GetReferral(ctx, s, referralID); err != nil {
		return nil, err
	}
	return e.Repo.ListStatusHistory(ctx, referralID)
}

// Summary is the dashboard view over the actor's visible referrals.
func (e Engine) Summary(ctx context.Context, s session.Session) (domain.Summary, error) {
	refs, err := e.ListReferralsForActor(ctx, s)
	if err != nil {
		return domain.Summary{}, err
	}
	active, err := e.Repo.CountActiveJobs(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	return view.Summarize(refs, active), nil
}
