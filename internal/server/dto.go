package server

import (
	"encoding/json"

	"refportal/internal/domain"
	"refportal/internal/feed"
)

// Request payloads

type SignupRequest struct {
	EmployeeCode string `json:"employee_code" minLength:"1"`
	Name         string `json:"name" minLength:"1"`
	Email        string `json:"email" format:"email"`
	Password     string `json:"password"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" doc:"Email address or employee code"`
	Password   string `json:"password"`
}

type CreateActorRequest struct {
	EmployeeCode string `json:"employee_code"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role,omitempty" enum:"employee,hr"`
}

type CreateJobRequest struct {
	JobCode    string `json:"job_code"`
	Title      string `json:"title"`
	Department string `json:"department"`
	Inactive   bool   `json:"inactive,omitempty"`
}

type UpdateJobRequest struct {
	JobCode    *string `json:"job_code,omitempty"`
	Title      *string `json:"title,omitempty"`
	Department *string `json:"department,omitempty"`
}

type CreateReferralRequest struct {
	Candidate        domain.Candidate `json:"candidate"`
	JobIDs           []string         `json:"job_ids" doc:"Job ids or job codes; one referral is created per job"`
	HowKnowCandidate string           `json:"how_know_candidate"`
	ResumeRef        string           `json:"resume_ref,omitempty" doc:"Reference returned by POST /attachments"`
}

type TransitionRequest struct {
	Status string `json:"status" example:"interview"`
	Note   string `json:"note,omitempty" doc:"Required when rejecting"`
}

// Response payloads

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	Actor     domain.Actor `json:"actor"`
}

type MeResponse struct {
	Actor     domain.Actor `json:"actor"`
	SessionID string       `json:"session_id"`
	ExpiresAt string       `json:"expires_at,omitempty"`
}

type AttachmentResponse struct {
	Ref string `json:"ref"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// StreamReady is sent once the subscription is registered.
type StreamReady struct {
	ReferrerID string `json:"referrer_id,omitempty"`
}

// ChangeEvent is the SSE payload for referral changes.
type ChangeEvent struct {
	Kind       string `json:"kind"`
	ReferralID string `json:"referral_id"`
	At         string `json:"at" format:"date-time"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func changeEvent(c feed.Change) ChangeEvent {
	return ChangeEvent{
		Kind:       string(c.Kind),
		ReferralID: c.ReferralID,
		At:         c.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
