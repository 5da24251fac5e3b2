package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"refportal/internal/config"
	"refportal/internal/domain"
	"refportal/internal/engine"
	"refportal/internal/engine/auth"
	"refportal/internal/feed"
	"refportal/internal/repo"
	"refportal/internal/session"
	"refportal/internal/view"
	"refportal/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Sessions session.Manager
	BasePath string
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	Log      *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_note"`
	Message string         `json:"message" example:"a note is required when rejecting"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type response[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *response[T] {
	return &response[T]{Body: v}
}

// New returns an HTTP handler exposing the referral portal API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are client input errors.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Sessions, log))
	hcfg := huma.DefaultConfig("Referral Portal API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Sessions)
	registerActors(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerReferrals(group, cfg.Engine)
	registerChanges(group, cfg.Engine, log)
	registerAttachments(group, cfg.Engine)
	registerSummary(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve workflow.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": ve.Field})
	}
	var ae *workflow.AttachmentError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": "file"})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var pe *workflow.PersistenceError
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInactive):
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, workflow.ErrNoOp):
		return newAPIError(http.StatusConflict, "no_op", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, workflow.ErrMissingNote):
		return newAPIError(http.StatusUnprocessableEntity, "missing_note", err.Error(), nil)
	case errors.As(err, &pe):
		return newAPIError(http.StatusServiceUnavailable, "persistence_failure", "storage unavailable, retry later", map[string]any{"op": pe.Op})
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "persistence_failure"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := publicPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Referral Portal API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Sign in with POST /auth/login and send Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*response[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerAuth(api huma.API, e engine.Engine, sessions session.Manager) {
	open := func(ctx context.Context, actor domain.Actor) (*response[LoginResponse], error) {
		s, token, err := sessions.Open(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(LoginResponse{
			Token:     token,
			ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
			Actor:     actor,
		}), nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create an employee account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SignupRequest `json:"body"`
	}) (*response[LoginResponse], error) {
		actor, err := e.RegisterActor(ctx, engine.ActorInput{
			EmployeeCode: input.Body.EmployeeCode,
			Name:         input.Body.Name,
			Email:        input.Body.Email,
			Password:     input.Body.Password,
			Role:         domain.RoleEmployee,
		}, "")
		if err != nil {
			return nil, handleError(err)
		}
		return open(ctx, actor)
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Open a session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*response[LoginResponse], error) {
		actor, err := e.Authenticate(ctx, input.Body.Identifier, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return open(ctx, actor)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Close the current session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := sessions.Close(ctx, s); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current session",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*response[MeResponse], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		me := MeResponse{Actor: s.Actor, SessionID: s.ID}
		if !s.ExpiresAt.IsZero() {
			me.ExpiresAt = s.ExpiresAt.Format(time.RFC3339)
		}
		return reply(me), nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Create an account (hr)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*response[domain.Actor], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateActor(ctx, s, engine.ActorInput{
			EmployeeCode: input.Body.EmployeeCode,
			Name:         input.Body.Name,
			Email:        input.Body.Email,
			Password:     input.Body.Password,
			Role:         domain.Role(input.Body.Role),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List accounts (hr)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" doc:"employee or hr; empty lists both"`
	}) (*response[[]domain.Actor], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListActors(ctx, s, domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	type jobPath struct {
		ID string `path:"id" doc:"Job id or job code"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs open for referrals",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		All bool `query:"all" doc:"Include inactive jobs (hr only)"`
	}) (*response[[]domain.Job], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			items []domain.Job
			err   error
		)
		if input.All {
			items, err = e.ListAllJobs(ctx, s)
		} else {
			items, err = e.ListActiveJobs(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create job (hr)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*response[domain.Job], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CreateJob(ctx, s, engine.JobInput{
			Code:       input.Body.JobCode,
			Title:      input.Body.Title,
			Department: input.Body.Department,
			Inactive:   input.Body.Inactive,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job",
		Method:      http.MethodPatch,
		Path:        "/jobs/{id}",
		Summary:     "Update job (hr)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id" doc:"Job id or job code"`
		Body UpdateJobRequest `json:"body"`
	}) (*response[domain.Job], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.UpdateJob(ctx, s, input.ID, engine.JobPatch{
			Code:       input.Body.JobCode,
			Title:      input.Body.Title,
			Department: input.Body.Department,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(j), nil
	})

	for _, toggle := range []struct {
		op     string
		active bool
	}{{"activate", true}, {"deactivate", false}} {
		active := toggle.active
		huma.Register(api, huma.Operation{
			OperationID: toggle.op + "-job",
			Method:      http.MethodPost,
			Path:        "/jobs/{id}/" + toggle.op,
			Summary:     strings.ToUpper(toggle.op[:1]) + toggle.op[1:] + " job (hr)",
			Errors:      []int{http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *jobPath) (*response[domain.Job], error) {
			s, authErr := sessionFrom(ctx)
			if authErr != nil {
				return nil, authErr
			}
			j, err := e.SetJobActive(ctx, s, input.ID, active)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(j), nil
		})
	}
}

func registerReferrals(api huma.API, e engine.Engine) {
	type referralPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-referrals",
		Method:      http.MethodGet,
		Path:        "/referrals",
		Summary:     "List visible referrals",
		Description: "HR sees every referral; employees see their own. Status counts cover the unfiltered set.",
	}, func(ctx context.Context, input *struct {
		Search string `query:"search"`
		Status string `query:"status" doc:"A status or \"all\""`
		JobID  string `query:"job_id" doc:"A job id or \"all\""`
	}) (*response[engine.ReferralQuery], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Status != "" && input.Status != view.All {
			if _, ok := domain.ParseStatus(input.Status); !ok {
				return nil, handleError(workflow.Invalid("status", "unknown status "+input.Status))
			}
		}
		q, err := e.QueryReferrals(ctx, s, view.Criteria{Search: input.Search, Status: input.Status, JobID: input.JobID})
		if err != nil {
			return nil, handleError(err)
		}
		q.Referrals = nonNil(q.Referrals)
		return reply(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-referrals",
		Method:        http.MethodPost,
		Path:          "/referrals",
		Summary:       "Refer a candidate to one or more jobs",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CreateReferralRequest `json:"body"`
	}) (*response[engine.ReferralBatch], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.CreateReferrals(ctx, s, engine.ReferralCreateOptions{
			Candidate:        input.Body.Candidate,
			JobIDs:           input.Body.JobIDs,
			HowKnowCandidate: input.Body.HowKnowCandidate,
			ResumeRef:        input.Body.ResumeRef,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(batch), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-referral",
		Method:      http.MethodGet,
		Path:        "/referrals/{id}",
		Summary:     "Get referral",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *referralPath) (*response[domain.Referral], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ref, err := e.GetReferral(ctx, s, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ref), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "referral-history",
		Method:      http.MethodGet,
		Path:        "/referrals/{id}/history",
		Summary:     "Status history, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *referralPath) (*response[[]domain.StatusHistoryEntry], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.GetStatusHistory(ctx, s, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-referral",
		Method:      http.MethodPost,
		Path:        "/referrals/{id}/transitions",
		Summary:     "Change referral status (hr)",
		Description: "Any status may follow any other; moving to the current status is refused and rejecting needs a note.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*response[engine.TransitionResult], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.TransitionReferral(ctx, s, engine.TransitionOptions{
			ReferralID: input.ID,
			Status:     input.Body.Status,
			Note:       input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

// registerChanges streams referral change notifications. Clients refetch on
// each event; bursts may be coalesced into one.
func registerChanges(api huma.API, e engine.Engine, log *zap.SugaredLogger) {
	sse.Register(api, huma.Operation{
		OperationID: "referral-changes",
		Method:      http.MethodGet,
		Path:        "/referrals/changes",
		Summary:     "Stream referral changes",
	}, map[string]any{
		"ready":  StreamReady{},
		"change": ChangeEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		s, ok := session.FromContext(ctx)
		if !ok || e.Feed == nil {
			return
		}
		filter := feed.Filter{}
		if !s.IsHR() {
			filter.ReferrerID = s.ActorID()
		}
		sub, err := e.Feed.Subscribe(ctx, filter)
		if err != nil {
			log.Warnw("subscribe referral changes", "actor_id", s.ActorID(), "error", err)
			return
		}
		defer sub.Close()
		if err := send.Data(StreamReady{ReferrerID: filter.ReferrerID}); err != nil {
			return
		}
		_ = sub.Each(ctx, func(c feed.Change) error {
			return send.Data(changeEvent(c))
		})
	})
}

func registerAttachments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-attachment",
		Method:        http.MethodPost,
		Path:          "/attachments",
		Summary:       "Upload a resume",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Name    string `query:"name" required:"true" doc:"Original file name, used for the extension"`
		RawBody []byte
	}) (*response[AttachmentResponse], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ref, err := e.UploadAttachment(ctx, s, input.Name, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(AttachmentResponse{Ref: ref}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-attachment",
		Method:      http.MethodGet,
		Path:        "/attachments",
		Summary:     "Download a resume",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `query:"ref" required:"true"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.DownloadAttachment(ctx, s, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		ct := mime.TypeByExtension(filepath.Ext(input.Ref))
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: ct, Body: data}, nil
	})
}

func registerSummary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Dashboard numbers over visible referrals",
	}, func(ctx context.Context, _ *struct{}) (*response[domain.Summary], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sum, err := e.Summary(ctx, s)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sum), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Portal configuration in effect",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*response[config.Config], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireHR(s.Actor, "config.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := *cfg
		for i := range out.Webhooks {
			if out.Webhooks[i].Secret != "" {
				out.Webhooks[i].Secret = "********"
			}
		}
		return reply(out), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events (hr)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" doc:"actor, job, referral, config or session"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*response[paginatedEvents], error) {
		s, authErr := sessionFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, s, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
