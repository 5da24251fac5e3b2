package auth

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"refportal/internal/domain"
	"refportal/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is deactivated")
)

// ForbiddenError indicates the actor's role does not allow the action.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// RequireHR fails unless the actor is an active hr user.
func RequireHR(a domain.Actor, permission string) error {
	if !a.IsHR() || !a.IsActive {
		return ForbiddenError{Permission: permission}
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func ValidatePassword(password string, minLength int) error {
	if utf8.RuneCountInString(password) < minLength {
		return fmt.Errorf("password must be at least %d characters", minLength)
	}
	if len(password) > 72 {
		return errors.New("password must be at most 72 bytes")
	}
	return nil
}

// Service resolves login credentials to actors.
type Service struct {
	Repo repo.Repo
}

// Authenticate accepts an email or employee code as identifier.
func (s Service) Authenticate(ctx context.Context, identifier, password string) (domain.Actor, error) {
	if identifier == "" || password == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}
	actor, hash, err := s.Repo.FindActorByLogin(ctx, identifier)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if !CheckPassword(hash, password) {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if !actor.IsActive {
		return domain.Actor{}, ErrInactive
	}
	return actor, nil
}
