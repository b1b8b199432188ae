package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/AustinJeremiah05/Prop99/internal/consensus"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/orchestrator"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *Dispatcher
	BasePath     string
	GatewayURL   string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"request not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Prop99 oracle API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Prop99 Oracle API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRequests(group, cfg)
	registerEvidence(group, cfg)
	registerEvents(group, cfg)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, consensus.ErrInsufficientResponses) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_consensus", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already in stage"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

func registerRequests(api huma.API, cfg Config) {
	o := cfg.Orchestrator

	huma.Register(api, huma.Operation{
		OperationID:   "submit-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit verification request",
		Description:   "Queues a verification request for the orchestration pipeline. The request id must match the ledger-assigned id.",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequestRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		if input.Body.RequestID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "request_id is required", nil)
		}
		req := domain.VerificationRequest{
			RequestID:    input.Body.RequestID,
			Latitude:     input.Body.Latitude,
			Longitude:    input.Body.Longitude,
			DocumentCIDs: input.Body.DocumentCIDs,
		}
		if err := o.Accept(ctx, req); err != nil {
			return nil, handleError(err)
		}
		if cfg.Dispatcher != nil {
			cfg.Dispatcher.Wake()
		}
		rec, err := o.Repo.GetRequest(ctx, req.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{requestId}",
		Summary:     "Get request lifecycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"requestId"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		rec, err := o.Repo.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage           string `query:"stage"`
		Limit           int    `query:"limit" default:"100"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []RequestResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := o.Repo.ListRequests(ctx, input.Stage, limit, input.CursorCreatedAt, input.CursorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]RequestResponse, 0, len(items))
		for _, rec := range items {
			res = append(res, requestResponse(rec))
		}
		return &struct {
			Body []RequestResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvidence(api huma.API, cfg Config) {
	o := cfg.Orchestrator
	huma.Register(api, huma.Operation{
		OperationID: "get-evidence",
		Method:      http.MethodGet,
		Path:        "/evidence/{requestId}",
		Summary:     "Get evidence reference",
		Description: "Returns the content-addressed reference of the archived evidence bundle for a request.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"requestId"`
	}) (*struct {
		Body EvidenceResponse `json:"body"`
	}, error) {
		ref, err := o.Repo.GetEvidenceRef(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		res := EvidenceResponse{
			RequestID: ref.RequestID,
			CID:       ref.CID,
			UpdatedAt: ref.UpdatedAt,
		}
		if cfg.GatewayURL != "" {
			res.URL = strings.TrimRight(cfg.GatewayURL, "/") + "/" + ref.CID
		}
		return &struct {
			Body EvidenceResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	o := cfg.Orchestrator
	huma.Register(api, huma.Operation{
		OperationID: "list-request-events",
		Method:      http.MethodGet,
		Path:        "/requests/{requestId}/events",
		Summary:     "List request events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"requestId"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := o.Repo.GetRequest(ctx, input.RequestID); err != nil {
			return nil, handleError(err)
		}
		items, err := o.Repo.EventsForRequest(ctx, input.RequestID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, e := range items {
			res = append(res, eventResponse(e))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
