package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"refportal/internal/config"
	"refportal/internal/db"
	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/feed"
	"refportal/internal/metrics"
	"refportal/internal/migrate"
	"refportal/internal/session"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	reg := prometheus.NewRegistry()
	e.Metrics = metrics.New(reg)
	if err := e.Repo.UpsertSettings(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if _, err := e.RegisterActor(context.Background(), engine.ActorInput{
		EmployeeCode: "HR-1", Name: "Helen Recruiter", Email: "hr@example.com", Password: "hr-secret-1", Role: domain.RoleHR,
	}, ""); err != nil {
		t.Fatalf("seed hr: %v", err)
	}
	sessions := session.Manager{
		DB:     conn,
		Repo:   e.Repo,
		Events: e.Events,
		Secret: []byte("test-secret"),
		TTL:    time.Hour,
	}
	handler, err := New(Config{Engine: e, Sessions: sessions, BasePath: "/v1", Gatherer: reg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", res.Request.Method, res.Request.URL.Path, want, res.StatusCode, string(data))
	}
}

func expectErrorCode(t *testing.T, data []byte, code string) {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, env.Error.Code, env.Error.Message)
	}
}

func login(t *testing.T, srv *testServer, identifier, password string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{Identifier: identifier, Password: password}, "")
	expectStatus(t, res, data, http.StatusOK)
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("empty token")
	}
	return out.Token
}

func signup(t *testing.T, srv *testServer, code, name, email string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", SignupRequest{
		EmployeeCode: code, Name: name, Email: email, Password: "employee-pass",
	}, "")
	expectStatus(t, res, data, http.StatusCreated)
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	if out.Actor.Role != domain.RoleEmployee {
		t.Fatalf("signup must create employees, got %s", out.Actor.Role)
	}
	return out.Token
}

func createJob(t *testing.T, srv *testServer, token, code string) domain.Job {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs", CreateJobRequest{
		JobCode: code, Title: "Engineer " + code, Department: "Engineering",
	}, token)
	expectStatus(t, res, data, http.StatusCreated)
	var j domain.Job
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return j
}

func referralRequest(jobIDs ...string) CreateReferralRequest {
	return CreateReferralRequest{
		Candidate: domain.Candidate{
			FirstName: "Jane", LastName: "Doe", Phone: "+1 555 010 2000",
			Email: "jane.doe@example.com", DOB: "1990-05-17",
		},
		JobIDs:           jobIDs,
		HowKnowCandidate: "Former colleague",
	}
}

func createReferrals(t *testing.T, srv *testServer, token string, jobIDs ...string) engine.ReferralBatch {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/referrals", referralRequest(jobIDs...), token)
	expectStatus(t, res, data, http.StatusCreated)
	var batch engine.ReferralBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	return batch
}

func TestReferralLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	hr := login(t, srv, "hr@example.com", "hr-secret-1")
	employee := signup(t, srv, "E-100", "Alice Smith", "alice@example.com")
	other := signup(t, srv, "E-200", "Bob Jones", "bob@example.com")

	jobA := createJob(t, srv, hr, "ENG-101")
	jobB := createJob(t, srv, hr, "ENG-102")

	batch := createReferrals(t, srv, employee, jobA.ID, jobB.Code)
	if len(batch.Referrals) != 2 {
		t.Fatalf("expected 2 referrals, got %d", len(batch.Referrals))
	}
	refID := batch.Referrals[0].ID
	base := srv.URL + "/v1/referrals/" + refID

	res, data := doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "interview"}, employee)
	expectStatus(t, res, data, http.StatusForbidden)
	expectErrorCode(t, data, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "interview"}, hr)
	expectStatus(t, res, data, http.StatusOK)
	var tr engine.TransitionResult
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatalf("decode transition: %v", err)
	}
	if tr.Referral.CurrentStatus != domain.StatusInterview || tr.Entry.Note != nil {
		t.Fatalf("unexpected transition result %+v", tr)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "interview"}, hr)
	expectStatus(t, res, data, http.StatusConflict)
	expectErrorCode(t, data, "no_op")

	res, data = doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "rejected"}, hr)
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	expectErrorCode(t, data, "missing_note")

	res, data = doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "promoted"}, hr)
	expectStatus(t, res, data, http.StatusBadRequest)
	expectErrorCode(t, data, "validation_error")

	res, data = doJSON(t, client, http.MethodPost, base+"/transitions", TransitionRequest{Status: "rejected", Note: "Not enough experience"}, hr)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, base+"/history", nil, employee)
	expectStatus(t, res, data, http.StatusOK)
	var hist []domain.StatusHistoryEntry
	if err := json.Unmarshal(data, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 3 || hist[0].Status != domain.StatusSubmitted || hist[2].Status != domain.StatusRejected {
		t.Fatalf("unexpected history %+v", hist)
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, other)
	expectStatus(t, res, data, http.StatusNotFound)
	expectErrorCode(t, data, "not_found")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/referrals?status=rejected", nil, employee)
	expectStatus(t, res, data, http.StatusOK)
	var q engine.ReferralQuery
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode referrals: %v", err)
	}
	if len(q.Referrals) != 1 || q.Total != 2 || q.StatusCounts[domain.StatusSubmitted] != 1 {
		t.Fatalf("unexpected query %+v", q)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/referrals", nil, other)
	expectStatus(t, res, data, http.StatusOK)
	q = engine.ReferralQuery{}
	if err := json.Unmarshal(data, &q); err != nil {
		t.Fatalf("decode referrals: %v", err)
	}
	if len(q.Referrals) != 0 || q.Total != 0 {
		t.Fatalf("other employee sees foreign referrals: %+v", q)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, "")
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `refportal_status_transitions_total{from="submitted",to="interview"} 1`) {
		t.Fatalf("transition metric missing:\n%s", string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, "")
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/referrals", nil, "")
	expectStatus(t, res, data, http.StatusUnauthorized)
	expectErrorCode(t, data, "unauthorized")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/referrals", nil, "garbage")
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", LoginRequest{Identifier: "hr@example.com", Password: "wrong"}, "")
	expectStatus(t, res, data, http.StatusUnauthorized)
	expectErrorCode(t, data, "unauthorized")

	token := login(t, srv, "HR-1", "hr-secret-1")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, token)
	expectStatus(t, res, data, http.StatusOK)
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Actor.Role != domain.RoleHR || me.SessionID == "" {
		t.Fatalf("unexpected me %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/logout", nil, token)
	expectStatus(t, res, data, http.StatusNoContent)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, token)
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestHROnlyEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	hr := login(t, srv, "hr@example.com", "hr-secret-1")
	employee := signup(t, srv, "E-100", "Alice Smith", "alice@example.com")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", CreateJobRequest{JobCode: "X-1", Title: "x", Department: "y"}, employee)
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, employee)
	expectStatus(t, res, data, http.StatusForbidden)

	job := createJob(t, srv, hr, "ENG-101")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", CreateJobRequest{JobCode: "eng-101", Title: "dup", Department: "Eng"}, hr)
	expectStatus(t, res, data, http.StatusConflict)
	expectErrorCode(t, data, "conflict")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/deactivate", nil, hr)
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, employee)
	expectStatus(t, res, data, http.StatusOK)
	var jobs []domain.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("inactive job listed for employees: %+v", jobs)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/referrals", referralRequest(job.ID), employee)
	expectStatus(t, res, data, http.StatusBadRequest)
	expectErrorCode(t, data, "validation_error")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=2", nil, hr)
	expectStatus(t, res, data, http.StatusOK)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
}

func TestAttachmentUploadAndReferral(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	hr := login(t, srv, "hr@example.com", "hr-secret-1")
	employee := signup(t, srv, "E-100", "Alice Smith", "alice@example.com")
	job := createJob(t, srv, hr, "ENG-101")

	// No attachment store configured: the upload fails but referrals still work.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/attachments?name=cv.pdf", strings.NewReader("%PDF"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+employee)
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without store, got %d", res.StatusCode)
	}

	body := referralRequest(job.ID)
	body.ResumeRef = "someone-else/1.pdf"
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/referrals", body, employee)
	expectStatus(t, res, data, http.StatusCreated)
	var batch engine.ReferralBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if !batch.AttachmentSkipped || batch.AttachmentError == "" || batch.Referrals[0].ResumeRef != nil {
		t.Fatalf("expected skipped attachment, got %+v", batch)
	}
}

func TestReferralChangesStream(t *testing.T) {
	srv := newTestServer(t, nil)
	hr := login(t, srv, "hr@example.com", "hr-secret-1")
	employee := signup(t, srv, "E-100", "Alice Smith", "alice@example.com")
	job := createJob(t, srv, hr, "ENG-101")
	refID := createReferrals(t, srv, employee, job.ID).Referrals[0].ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/referrals/changes", nil)
	req.Header.Set("Authorization", "Bearer "+employee)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", res.StatusCode)
	}

	broker := srv.Engine.Feed.(*feed.Broker)
	deadline := time.Now().Add(2 * time.Second)
	for broker.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res2, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/referrals/"+refID+"/transitions", TransitionRequest{Status: "screening"}, hr)
	expectStatus(t, res2, data, http.StatusOK)

	scanner := bufio.NewScanner(res.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") || event != "change" {
			continue
		}
		var evt ChangeEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &evt); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if evt.ReferralID != refID || evt.Kind != string(feed.KindStatusChanged) {
			t.Fatalf("unexpected change %+v", evt)
		}
		return
	}
	t.Fatalf("stream closed without a change: %v", scanner.Err())
}

func TestWebhookDispatcherDeliversSignedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		sigs     []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		sigs = append(sigs, r.Header.Get("X-Refportal-Signature"))
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{ID: "ats", URL: hook.URL, Events: []string{"referral.*"}, Secret: "s3cret"}}
	srv := newTestServer(t, cfg)
	hr := login(t, srv, "hr@example.com", "hr-secret-1")
	employee := signup(t, srv, "E-100", "Alice Smith", "alice@example.com")
	job := createJob(t, srv, hr, "ENG-101")

	d := NewWebhookDispatcher(srv.Engine, nil)
	if d == nil {
		t.Fatal("expected dispatcher for enabled webhook")
	}
	ctx := context.Background()
	d.dispatchAll(ctx) // establishes the cursor at the newest event

	refID := createReferrals(t, srv, employee, job.ID).Referrals[0].ID
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	if received[0].Type != "referral.created" || received[0].EntityID != refID {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
	if !strings.HasPrefix(sigs[0], "sha256=") {
		t.Fatalf("missing signature header: %q", sigs[0])
	}
}

func TestEventFilterWildcards(t *testing.T) {
	f := newEventFilter([]string{"referral.*", "job.created"})
	for evt, want := range map[string]bool{
		"referral.created":        true,
		"referral.status_changed": true,
		"job.created":             true,
		"job.updated":             false,
		"session.opened":          false,
	} {
		if got := f.match(evt); got != want {
			t.Fatalf("match(%s) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatal("empty filter should match everything")
	}
}
