package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("only hr may change referral status")
	ErrNoOp         = errors.New("referral already has this status")
	ErrMissingNote  = errors.New("a note is required when rejecting a referral")
)

// ValidationError reports bad input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// PersistenceError means the store did not commit; nothing was applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// AttachmentError is non-fatal: referral creation proceeds without the file.
type AttachmentError struct {
	Name string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %q skipped: %v", e.Name, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
