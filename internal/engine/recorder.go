package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"refportal/internal/domain"
	"refportal/internal/events"
	"refportal/internal/repo"
)

// Recorder appends status history entries. Its Record call is the only
// path that moves a referral's current_status after creation.
type Recorder struct {
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (e Engine) recorder() Recorder {
	return Recorder{Repo: e.Repo, Events: e.Events, Now: e.now}
}

// Record appends the entry, updates current_status and updated_at, and logs
// the event, all inside tx. The caller commits.
func (r Recorder) Record(ctx context.Context, tx *sql.Tx, referralID string, status domain.Status, note, actorID string, from domain.Status) (domain.StatusHistoryEntry, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	var notePtr *string
	if n := strings.TrimSpace(note); n != "" {
		notePtr = &n
	}
	entry, err := r.Repo.AppendStatusHistory(ctx, tx, repo.StatusChange{
		ID:         uuid.NewString(),
		ReferralID: referralID,
		Status:     status,
		Note:       notePtr,
		ChangedBy:  actorID,
		At:         now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return domain.StatusHistoryEntry{}, err
	}
	payload := events.EventPayload{"from": string(from), "to": string(status), "seq": entry.Seq}
	if notePtr != nil {
		payload["note"] = *notePtr
	}
	if err := r.Events.Append(ctx, tx, events.ReferralStatusChanged, "referral", referralID, actorID, payload); err != nil {
		return domain.StatusHistoryEntry{}, err
	}
	return entry, nil
}
