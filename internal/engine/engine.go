package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"refportal/internal/attachment"
	"refportal/internal/config"
	"refportal/internal/engine/auth"
	"refportal/internal/events"
	"refportal/internal/feed"
	"refportal/internal/metrics"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Feed        feed.Feed
	Attachments attachment.Store
	Metrics     *metrics.Metrics
	Log         *zap.SugaredLogger
	Now         func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Feed:   feed.NewBroker(),
		Log:    zap.NewNop().Sugar(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) log() *zap.SugaredLogger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop().Sugar()
}

func (e Engine) rules() workflow.Rules {
	return workflow.Rules{NoteMaxLength: e.cfg().Referrals.NoteMaxLength}
}

func (e Engine) authService() auth.Service {
	return auth.Service{Repo: e.Repo}
}

// requireSession rejects anonymous or deactivated actors.
func requireSession(s session.Session) error {
	if !s.Valid() {
		return session.ErrInvalidSession
	}
	if !s.Actor.IsActive {
		return auth.ErrInactive
	}
	return nil
}

// publish notifies subscribers after a commit. Failures are logged; the
// write has already happened and listeners refresh on the next change.
func (e Engine) publish(ctx context.Context, c feed.Change) {
	if e.Feed == nil {
		return
	}
	if c.At.IsZero() {
		c.At = e.now().UTC()
	}
	if err := e.Feed.Publish(ctx, c); err != nil {
		e.log().Warnw("publish referral change", "referral_id", c.ReferralID, "error", err)
	}
}

func (e Engine) commit(tx *sql.Tx, op string) error {
	return workflow.Persistence(op, tx.Commit())
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
