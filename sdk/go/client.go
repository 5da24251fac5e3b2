package refportalsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal referral portal HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Actor struct {
	ID           string `json:"id"`
	EmployeeCode string `json:"employee_code"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
}

type Job struct {
	ID         string `json:"id"`
	Code       string `json:"job_code"`
	Title      string `json:"title"`
	Department string `json:"department"`
	IsActive   bool   `json:"is_active"`
}

type Candidate struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	DOB        string `json:"dob"`
}

// Referral represents the API referral model (partial).
type Referral struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	JobCode          string    `json:"job_code"`
	ReferrerID       string    `json:"referrer_id"`
	ReferrerName     string    `json:"referrer_name"`
	Candidate        Candidate `json:"candidate"`
	HowKnowCandidate string    `json:"how_know_candidate"`
	ResumeRef        *string   `json:"resume_ref,omitempty"`
	CurrentStatus    string    `json:"current_status"`
	CreatedAt        string    `json:"created_at"`
}

// HistoryEntry is one status change, oldest first.
type HistoryEntry struct {
	Seq           int     `json:"seq"`
	Status        string  `json:"status"`
	Note          *string `json:"note,omitempty"`
	ChangedBy     string  `json:"changed_by"`
	ChangedByName string  `json:"changed_by_name"`
	CreatedAt     string  `json:"created_at"`
}

type ReferralBatch struct {
	Referrals         []Referral `json:"referrals"`
	AttachmentSkipped bool       `json:"attachment_skipped"`
	AttachmentError   string     `json:"attachment_error,omitempty"`
}

type ReferralPage struct {
	Referrals    []Referral     `json:"referrals"`
	Total        int            `json:"total"`
	StatusCounts map[string]int `json:"status_counts"`
}

type Summary struct {
	Total        int            `json:"total_referrals"`
	ActiveJobs   int            `json:"active_jobs"`
	InProgress   int            `json:"in_progress"`
	Hired        int            `json:"hired"`
	StatusCounts map[string]int `json:"status_counts"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type loginResponse struct {
	Token string `json:"token"`
	Actor Actor  `json:"actor"`
}

// Login opens a session and keeps its token on the client.
func (c *Client) Login(ctx context.Context, identifier, password string) (Actor, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"identifier": identifier, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp.Actor, err
}

// Signup creates an employee account and keeps the new session token.
func (c *Client) Signup(ctx context.Context, employeeCode, name, email, password string) (Actor, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "auth/signup", map[string]any{
		"employee_code": employeeCode,
		"name":          name,
		"email":         email,
		"password":      password,
	}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp.Actor, err
}

// Logout closes the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "auth/logout", nil, nil); err != nil {
		return err
	}
	c.BearerToken = ""
	return nil
}

// ListJobs returns jobs open for referrals, or every job when all is set (hr).
func (c *Client) ListJobs(ctx context.Context, all bool) ([]Job, error) {
	endpoint := "jobs"
	if all {
		endpoint += "?all=true"
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CreateJob(ctx context.Context, code, title, department string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", map[string]any{
		"job_code":   code,
		"title":      title,
		"department": department,
	}, &resp)
	return resp, err
}

// CreateReferrals refers one candidate to each job in jobIDs.
func (c *Client) CreateReferrals(ctx context.Context, cand Candidate, jobIDs []string, howKnow, resumeRef string) (ReferralBatch, error) {
	var resp ReferralBatch
	err := c.do(ctx, http.MethodPost, "referrals", map[string]any{
		"candidate":          cand,
		"job_ids":            jobIDs,
		"how_know_candidate": howKnow,
		"resume_ref":         resumeRef,
	}, &resp)
	return resp, err
}

// ListReferrals filters the visible referrals; empty arguments match all.
func (c *Client) ListReferrals(ctx context.Context, search, status, jobID string) (ReferralPage, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if status != "" {
		q.Set("status", status)
	}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	endpoint := "referrals"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp ReferralPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetReferral(ctx context.Context, id string) (Referral, error) {
	var resp Referral
	err := c.do(ctx, http.MethodGet, "referrals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, "referrals/"+url.PathEscape(id)+"/history", nil, &resp)
	return resp, err
}

// Transition changes a referral's status (hr). Rejections need a note.
func (c *Client) Transition(ctx context.Context, id, status, note string) (Referral, HistoryEntry, error) {
	var resp struct {
		Referral Referral     `json:"referral"`
		Entry    HistoryEntry `json:"entry"`
	}
	err := c.do(ctx, http.MethodPost, "referrals/"+url.PathEscape(id)+"/transitions", map[string]any{
		"status": status,
		"note":   note,
	}, &resp)
	return resp.Referral, resp.Entry, err
}

// UploadResume stores a file and returns the ref to pass to CreateReferrals.
func (c *Client) UploadResume(ctx context.Context, name string, data []byte) (string, error) {
	var resp struct {
		Ref string `json:"ref"`
	}
	err := c.send(ctx, http.MethodPost, "attachments?name="+url.QueryEscape(name), "application/octet-stream", bytes.NewReader(data), &resp)
	return resp.Ref, err
}

func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, "summary", nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing (hr).
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
