package engine

import (
	"context"

	"refportal/internal/config"
	"refportal/internal/domain"
	"refportal/internal/engine/auth"
	"refportal/internal/events"
	"refportal/internal/repo"
	"refportal/internal/session"
)

// ImportConfig replaces the stored portal configuration.
func (e Engine) ImportConfig(ctx context.Context, s session.Session, cfg *config.Config) error {
	if err := requireSession(s); err != nil {
		return err
	}
	if err := auth.RequireHR(s.Actor, "config.import"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertSettingsTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, "config", "portal", s.ActorID(), events.EventPayload{"webhooks": len(cfg.Webhooks)}); err != nil {
		return err
	}
	return e.commit(tx, "commit config")
}

// ListEvents exposes the audit log to hr.
func (e Engine) ListEvents(ctx context.Context, s session.Session, f repo.EventFilters) ([]domain.Event, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if err := auth.RequireHR(s.Actor, "events.read"); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}
