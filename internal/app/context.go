package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"refportal/internal/attachment"
	"refportal/internal/config"
	"refportal/internal/db"
	"refportal/internal/engine"
	"refportal/internal/migrate"
	"refportal/internal/repo"
)

// ResolveConfig returns the stored portal config. When none is stored it
// seeds one from refportal.yml in the workspace, or from defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetSettings(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertSettings(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed portal config: %w", err)
	}
	return seed, nil
}

// AttachmentDir is where resumes live inside a workspace.
func AttachmentDir(workspace string) string {
	return filepath.Join(db.StateDir(workspace), "resumes")
}

// Open opens and migrates the workspace database and builds an engine
// wired to the stored config and the workspace attachment store.
func Open(ctx context.Context, workspace string, log *zap.SugaredLogger) (*sql.DB, engine.Engine, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.MigrateContext(ctx, conn, log); err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	r := repo.Repo{DB: conn}
	cfg, err := ResolveConfig(ctx, workspace, r)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	e := engine.New(conn, cfg)
	e.Log = log.Named("engine")
	e.Attachments = attachment.FSStore{
		Root:   AttachmentDir(workspace),
		Limits: attachment.Limits{MaxBytes: cfg.Attachments.MaxBytes, Extensions: cfg.Extensions()},
		Now:    time.Now,
	}
	return conn, e, nil
}
