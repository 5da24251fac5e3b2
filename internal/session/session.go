// Package session carries the authenticated actor explicitly. A Session is
// opened at login, resolved from its token on each request and closed at
// logout.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"refportal/internal/domain"
	"refportal/internal/events"
	"refportal/internal/repo"
)

var ErrInvalidSession = errors.New("invalid or expired session")

type Session struct {
	ID        string       `json:"id"`
	Actor     domain.Actor `json:"actor"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (s Session) ActorID() string { return s.Actor.ID }
func (s Session) Role() domain.Role { return s.Actor.Role }
func (s Session) IsHR() bool { return s.Actor.IsHR() }
func (s Session) Valid() bool { return s.Actor.ID != "" }

// Local builds an unsigned session for trusted callers such as the CLI.
func Local(actor domain.Actor, now time.Time) Session {
	return Session{ID: "local", Actor: actor, IssuedAt: now}
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s.Valid()
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Manager struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Open records a new session for actor and returns it with a signed token.
func (m Manager) Open(ctx context.Context, actor domain.Actor) (Session, string, error) {
	if len(m.Secret) == 0 {
		return Session{}, "", errors.New("session secret not configured")
	}
	if m.TTL <= 0 {
		return Session{}, "", errors.New("session ttl not configured")
	}
	issued := m.now().UTC().Truncate(time.Second)
	s := Session{
		ID:        uuid.NewString(),
		Actor:     actor,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(m.TTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Role: string(actor.Role),
	})
	signed, err := token.SignedString(m.Secret)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign session token: %w", err)
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, "", err
	}
	defer tx.Rollback()
	if err := m.Repo.InsertSession(ctx, tx, repo.SessionRecord{
		ID:        s.ID,
		ActorID:   actor.ID,
		CreatedAt: s.IssuedAt.Format(time.RFC3339),
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return Session{}, "", err
	}
	if err := m.Events.Append(ctx, tx, events.SessionOpened, "session", s.ID, actor.ID, nil); err != nil {
		return Session{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, "", err
	}
	return s, signed, nil
}

// Resolve verifies token and loads the current actor behind it.
func (m Manager) Resolve(ctx context.Context, token string) (Session, error) {
	if len(m.Secret) == 0 || strings.TrimSpace(token) == "" {
		return Session{}, ErrInvalidSession
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return m.Secret, nil
	})
	if err != nil || !parsed.Valid || c.Subject == "" || c.ID == "" {
		return Session{}, ErrInvalidSession
	}
	rec, err := m.Repo.GetSession(ctx, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, ErrInvalidSession
	}
	if err != nil {
		return Session{}, err
	}
	if rec.RevokedAt != nil || rec.ActorID != c.Subject {
		return Session{}, ErrInvalidSession
	}
	expires, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil || !m.now().Before(expires) {
		return Session{}, ErrInvalidSession
	}
	actor, err := m.Repo.GetActor(ctx, rec.ActorID)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, ErrInvalidSession
	}
	if err != nil {
		return Session{}, err
	}
	if !actor.IsActive {
		return Session{}, ErrInvalidSession
	}
	issued, _ := time.Parse(time.RFC3339, rec.CreatedAt)
	return Session{ID: rec.ID, Actor: actor, IssuedAt: issued, ExpiresAt: expires}, nil
}

// Close revokes the session; later Resolve calls fail.
func (m Manager) Close(ctx context.Context, s Session) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Repo.RevokeSession(ctx, tx, s.ID, m.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := m.Events.Append(ctx, tx, events.SessionClosed, "session", s.ID, s.ActorID(), nil); err != nil {
		return err
	}
	return tx.Commit()
}
