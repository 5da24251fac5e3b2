package engine

import (
	"context"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"refportal/internal/domain"
	"refportal/internal/engine/auth"
	"refportal/internal/events"
	"refportal/internal/session"
	"refportal/internal/workflow"
)

type ActorInput struct {
	EmployeeCode string
	Name         string
	Email        string
	Password     string
	Role         domain.Role
}

// RegisterActor creates an account. Callers decide who may pick the role:
// public sign-up always passes RoleEmployee.
func (e Engine) RegisterActor(ctx context.Context, in ActorInput, createdBy string) (domain.Actor, error) {
	in.EmployeeCode = strings.TrimSpace(in.EmployeeCode)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Role == "" {
		in.Role = domain.RoleEmployee
	}
	if !in.Role.Valid() {
		return domain.Actor{}, workflow.Invalid("role", "must be employee or hr")
	}
	if in.EmployeeCode == "" {
		return domain.Actor{}, workflow.Invalid("employee_code", "required")
	}
	if in.Name == "" {
		return domain.Actor{}, workflow.Invalid("name", "required")
	}
	if !govalidator.IsEmail(in.Email) {
		return domain.Actor{}, workflow.Invalid("email", "invalid email address")
	}
	if err := auth.ValidatePassword(in.Password, e.cfg().Auth.MinPasswordLength); err != nil {
		return domain.Actor{}, workflow.Invalid("password", err.Error())
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.Actor{}, err
	}
	now := e.timestamp()
	a := domain.Actor{
		ID:           uuid.NewString(),
		EmployeeCode: in.EmployeeCode,
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if createdBy == "" {
		createdBy = a.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActor(ctx, tx, a, hash); err != nil {
		return domain.Actor{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ActorCreated, "actor", a.ID, createdBy, events.EventPayload{"role": string(a.Role), "employee_code": a.EmployeeCode}); err != nil {
		return domain.Actor{}, err
	}
	if err := e.commit(tx, "commit actor"); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// CreateActor lets hr add accounts with any role.
func (e Engine) CreateActor(ctx context.Context, s session.Session, in ActorInput) (domain.Actor, error) {
	if err := requireSession(s); err != nil {
		return domain.Actor{}, err
	}
	if err := auth.RequireHR(s.Actor, "actor.create"); err != nil {
		return domain.Actor{}, err
	}
	return e.RegisterActor(ctx, in, s.ActorID())
}

func (e Engine) ListActors(ctx context.Context, s session.Session, role domain.Role) ([]domain.Actor, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if err := auth.RequireHR(s.Actor, "actor.list"); err != nil {
		return nil, err
	}
	return e.Repo.ListActors(ctx, role)
}

// Authenticate resolves an email or employee code plus password.
func (e Engine) Authenticate(ctx context.Context, identifier, password string) (domain.Actor, error) {
	return e.authService().Authenticate(ctx, identifier, password)
}

// LocalSession builds a session for a trusted local caller naming an actor
// by id, email or employee code.
func (e Engine) LocalSession(ctx context.Context, actorRef string) (session.Session, error) {
	a, err := e.Repo.ResolveActor(ctx, actorRef)
	if err != nil {
		return session.Session{}, err
	}
	if !a.IsActive {
		return session.Session{}, auth.ErrInactive
	}
	return session.Local(a, e.now().UTC()), nil
}
