package engine

import (
	"context"
	"errors"
	"time"

	"refportal/internal/domain"
	"refportal/internal/feed"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

type TransitionOptions struct {
	ReferralID string
	Status     string
	Note       string
}

type TransitionResult struct {
	Referral domain.Referral           `json:"referral"`
	Entry    domain.StatusHistoryEntry `json:"entry"`
}

// TransitionReferral moves a referral to a new status on behalf of an hr
// session. Nothing is written when validation fails.
func (e Engine) TransitionReferral(ctx context.Context, s session.Session, opts TransitionOptions) (TransitionResult, error) {
	start := time.Now()
	if err := requireSession(s); err != nil {
		return TransitionResult{}, err
	}
	if !s.IsHR() {
		e.Metrics.IncTransitionRejected("unauthorized")
		return TransitionResult{}, workflow.ErrUnauthorized
	}
	proposed, ok := domain.ParseStatus(opts.Status)
	if !ok {
		e.Metrics.IncTransitionRejected("validation")
		return TransitionResult{}, workflow.Invalid("status", "unknown status "+opts.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, workflow.Persistence("begin", err)
	}
	defer tx.Rollback()

	ref, err := e.Repo.GetReferralTx(ctx, tx, opts.ReferralID)
	if err != nil {
		if isNotFound(err) {
			return TransitionResult{}, err
		}
		return TransitionResult{}, workflow.Persistence("load referral", err)
	}
	from := ref.CurrentStatus
	if err := e.rules().Validate(from, proposed, opts.Note, s.Role()); err != nil {
		e.Metrics.IncTransitionRejected(rejectionReason(err))
		return TransitionResult{}, err
	}
	entry, err := e.recorder().Record(ctx, tx, ref.ID, proposed, opts.Note, s.ActorID(), from)
	if err != nil {
		return TransitionResult{}, workflow.Persistence("append status history", err)
	}
	if err := e.commit(tx, "commit status change"); err != nil {
		return TransitionResult{}, err
	}
	entry.ChangedByName = s.Actor.Name
	ref.CurrentStatus = entry.Status
	ref.UpdatedAt = entry.CreatedAt

	e.Metrics.IncTransition(string(from), string(proposed))
	e.Metrics.ObserveTransition(start)
	e.log().Infow("referral status changed", "referral_id", ref.ID, "from", from, "to", proposed, "actor_id", s.ActorID())
	e.publish(ctx, feed.Change{Kind: feed.KindStatusChanged, ReferralID: ref.ID, ReferrerID: ref.ReferrerID})
	return TransitionResult{Referral: ref, Entry: entry}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, workflow.ErrNoOp):
		return "no_op"
	case errors.Is(err, workflow.ErrMissingNote):
		return "missing_note"
	default:
		return "validation"
	}
}
