// Package workflow holds the referral status rules.
package workflow

import (
	"strings"
	"unicode/utf8"

	"refportal/internal/domain"
)

const DefaultNoteMaxLength = 500

type Rules struct {
	NoteMaxLength int
}

// Validate decides whether role may move a referral from current to proposed.
// Any status may follow any other; only no-op changes and notes are checked.
func Validate(current, proposed domain.Status, note string, role domain.Role) error {
	return Rules{}.Validate(current, proposed, note, role)
}

func (r Rules) Validate(current, proposed domain.Status, note string, role domain.Role) error {
	if role != domain.RoleHR {
		return ErrUnauthorized
	}
	if !proposed.Valid() {
		return Invalid("status", "unknown status "+string(proposed))
	}
	if proposed == current {
		return ErrNoOp
	}
	trimmed := strings.TrimSpace(note)
	if proposed == domain.StatusRejected && trimmed == "" {
		return ErrMissingNote
	}
	max := r.NoteMaxLength
	if max <= 0 {
		max = DefaultNoteMaxLength
	}
	if utf8.RuneCountInString(trimmed) > max {
		return Invalid("note", "too long")
	}
	return nil
}
