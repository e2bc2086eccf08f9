package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/engine/escrow"
	"studioflow/internal/engine/iteration"
	"studioflow/internal/engine/statemachine"
	"studioflow/internal/metrics"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// RequestsPerMinute and Burst bound each client address; zero disables limiting.
	RequestsPerMinute int
	Burst             int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal transition: publish from draft"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type projectPath struct {
	ProjectID string `path:"project_id"`
}

var actionErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusBadGateway,
}

// New returns an HTTP handler exposing the studioflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema validation failures are the caller's fault
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(rateLimitMiddleware(cfg.RequestsPerMinute, cfg.Burst))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("Studioflow API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRules(group)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerProjects(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerEscrow(group, cfg.Engine)
	registerIterations(group, cfg.Engine)
	registerDisputes(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps engine errors to the envelope, carrying the kind's
// guidance and metadata so a UI can render them without parsing messages.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		details := map[string]any{
			"guidance":  ae.Kind.Guidance(),
			"retriable": ae.Kind.Retriable(),
		}
		for k, v := range ae.Metadata {
			details[k] = v
		}
		return newAPIError(ae.Kind.HTTPStatus(), strings.ToLower(string(ae.Kind)), ae.Message, details)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func respond(res engine.Result, err error) (*resultBody, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &resultBody{Body: res}, nil
}

// registerAction exposes a body-less action as POST {route}.
func registerAction(api huma.API, id, route, summary string, fn func(context.Context, domain.Actor, string) (engine.Result, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      actionErrors,
	}, func(ctx context.Context, input *projectPath) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(fn(ctx, actor, input.ProjectID))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "rules"):          true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
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

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRules(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "Project transition table",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RuleResponse `json:"body"`
	}, error) {
		rules := statemachine.Rules()
		out := make([]RuleResponse, 0, len(rules))
		for _, r := range rules {
			out = append(out, ruleResponse(r))
		}
		return &struct {
			Body []RuleResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.Actor.ID, Role: string(p.Actor.Role), Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := domain.Actor{ID: strings.TrimSpace(input.Body.ActorID), Role: domain.Role(input.Body.Role)}
		token, err := SignToken(authCfg.JWTSecret, actor, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        actionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*resultBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.CreateProject(ctx, actor, input.Body.options()))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List visible projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Mine   bool   `query:"mine"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, actor, engine.ListOptions{
			Status: domain.ProjectStatus(input.Status),
			Mine:   input.Mine,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with iterations and escrow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.ProjectView `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			view engine.ProjectView
			err  error
		)
		// numeric ids address projects by number
		if n, perr := strconv.ParseInt(input.ProjectID, 10, 64); perr == nil {
			view, err = e.GetProjectByNumber(ctx, actor, n)
		} else {
			view, err = e.GetProject(ctx, actor, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectView `json:"body"`
		}{Body: view}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	registerAction(api, "submit-project", "/projects/{project_id}/submit", "Submit a draft for review", e.SubmitProject)
	registerAction(api, "accept-project", "/projects/{project_id}/accept", "Accept a submitted project", e.AcceptProject)
	registerAction(api, "publish-project", "/projects/{project_id}/publish", "Publish a funded project to students", e.PublishProject)
	registerAction(api, "start-work", "/projects/{project_id}/start", "Start work", e.StartWork)
	registerAction(api, "confirm-payment", "/projects/{project_id}/confirm-payment", "Close a completed project", e.ConfirmPayment)

	huma.Register(api, huma.Operation{
		OperationID: "scope-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/scope",
		Summary:     "Scope a project",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      ScopeRequest `json:"body"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.ScopeProject(ctx, actor, input.ProjectID, input.Body.options()))
	})

	studentAction := func(id, route, summary string, fn func(context.Context, domain.Actor, string, string) (engine.Result, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        route,
			Summary:     summary,
			Errors:      actionErrors,
		}, func(ctx context.Context, input *struct {
			ProjectID string         `path:"project_id"`
			Body      StudentRequest `json:"body" required:"false"`
		}) (*resultBody, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			return respond(fn(ctx, actor, input.ProjectID, input.Body.StudentID))
		})
	}
	studentAction("claim-project", "/projects/{project_id}/claim", "Claim a published project", e.ClaimProject)
	studentAction("assign-student", "/projects/{project_id}/assign", "Assign the claiming student", e.AssignStudent)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel a project and refund held funds",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      ReasonRequest `json:"body" required:"false"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.CancelProject(ctx, actor, input.ProjectID, input.Body.Reason))
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-revisions",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/revisions",
		Summary:     "Raise the revision cap",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      GrantRevisionsRequest `json:"body"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.GrantRevisions(ctx, actor, input.ProjectID, input.Body.Extra))
	})
}

func registerEscrow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fund-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/fund",
		Summary:     "Charge the client into escrow",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		Body      FundRequest `json:"body" required:"false"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.Fund(ctx, actor, input.ProjectID, input.Body.Amount, input.Body.Currency))
	})
}

func registerIterations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-iterations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/iterations",
		Summary:     "List iterations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Iteration `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIterations(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Iteration `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-iteration",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/iterations",
		Summary:       "Submit work for review",
		DefaultStatus: http.StatusCreated,
		Errors:        actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      SubmitIterationRequest `json:"body" required:"false"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.SubmitIteration(ctx, actor, input.ProjectID, input.Body.Notes))
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-iteration",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/review",
		Summary:     "Approve or request a revision of the pending iteration",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      ReviewRequest `json:"body"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.ReviewIteration(ctx, actor, input.ProjectID, input.Body.IterationID, iteration.Decision(input.Body.Decision), input.Body.Notes))
	})
}

func registerDisputes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-dispute",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/dispute",
		Summary:     "Open a dispute",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      ReasonRequest `json:"body" required:"false"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.OpenDispute(ctx, actor, input.ProjectID, input.Body.Reason))
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/dispute/resolve",
		Summary:     "Resolve a dispute (admin)",
		Errors:      actionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ResolveRequest `json:"body"`
	}) (*resultBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return respond(e.ResolveDispute(ctx, actor, input.ProjectID, escrow.Resolution(input.Body.Outcome)))
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ProjectEvents(ctx, actor, input.ProjectID, limit+1, cursorID, input.Type)
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
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
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
