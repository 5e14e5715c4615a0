package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agentfloor/internal/engine"
	"agentfloor/internal/repo"
)

const apiVersion = "0.1.0"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"agent GHOST-001: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Agentfloor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope. Schema validation failures
	// keep their 422 status; only the body shape changes.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Agentfloor API", apiVersion)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerCompanies(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerState(group, cfg.Engine)
	registerLogs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMovements(group, cfg.Engine)
	registerRoles(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			spec, _ = json.Marshal(api.OpenAPI())
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Agentfloor API Docs</title>
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
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports service liveness and database connectivity. Always HTTP 200.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		res := HealthResponse{Status: "ok", Version: apiVersion, Database: "connected"}
		if err := e.DB.PingContext(ctx); err != nil {
			res.Database = "disconnected"
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerCompanies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-company",
		Method:        http.MethodPost,
		Path:          "/companies",
		Summary:       "Register a company",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCompanyRequest `json:"body"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		opts := engine.CompanyCreateOptions{Name: input.Body.Name}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		for _, seed := range input.Body.Agents {
			opts.Agents = append(opts.Agents, engine.AgentSeed{
				AgentID: seed.AgentID,
				Name:    seed.Name,
				Role:    seed.Role,
			})
		}
		c, err := e.CreateCompany(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List companies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CompanyListingResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []CompanyListingResponse{}
		for _, item := range items {
			res = append(res, companyListingResponse(item))
		}
		return &struct {
			Body []CompanyListingResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}",
		Summary:     "Get company",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCompany(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-company",
		Method:      http.MethodDelete,
		Path:        "/companies/{company_id}",
		Summary:     "Delete company",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteCompany(ctx, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup-movements",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/movements/cleanup",
		Summary:     "Delete completed movements",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CleanupResponse `json:"body"`
	}, error) {
		deleted, err := e.CleanupMovements(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CleanupResponse `json:"body"`
		}{Body: CleanupResponse{DeletedCount: deleted}}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/agents",
		Summary:       "Add an agent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string             `path:"company_id"`
		Body      CreateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, _, err := e.CreateAgent(ctx, input.CompanyID, engine.AgentSeed{
			AgentID: input.Body.AgentID,
			Name:    input.Body.Name,
			Role:    input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/agents",
		Summary:     "List agents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCompany(ctx, input.CompanyID); err != nil {
			return nil, handleError(err)
		}
		agents, err := e.Repo.ListAgents(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: mapAgents(agents)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/companies/{company_id}/agents/{agent_id}",
		Summary:     "Remove an agent",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		AgentID   string `path:"agent_id"`
	}) (*struct{}, error) {
		if err := e.DeleteAgent(ctx, input.CompanyID, input.AgentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerState(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "company-state",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/state",
		Summary:     "Company floor state",
		Description: "The full scene the dashboard polls: agents, pending movements, and role styling.",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyStateResponse `json:"body"`
	}, error) {
		state, err := e.State(ctx, input.CompanyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyStateResponse `json:"body"`
		}{Body: stateResponse(state)}, nil
	})
}

func registerLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "company-logs",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/logs",
		Summary:     "Activity log",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		AgentID   string `query:"agent_id"`
		EventType string `query:"event_type"`
		Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
		Offset    int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body LogsResponse `json:"body"`
	}, error) {
		page, err := e.Logs(ctx, repo.EventFilters{
			CompanyID: input.CompanyID,
			AgentID:   input.AgentID,
			EventType: input.EventType,
			Limit:     input.Limit,
			Offset:    input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := LogsResponse{Logs: []EventLogResponse{}, Total: page.Total, HasMore: page.HasMore}
		for _, evt := range page.Events {
			resp.Logs = append(resp.Logs, eventLogResponse(evt))
		}
		return &struct {
			Body LogsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "send-event",
		Method:      http.MethodPost,
		Path:        "/events",
		Summary:     "Ingest a business event",
		Description: "Accepts one event from a Dev App, infers action tokens, and updates the floor.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SendEventRequest `json:"body"`
	}) (*struct {
		Body EventAcceptedResponse `json:"body"`
	}, error) {
		evt, err := e.IngestEvent(ctx, engine.EventIngestOptions{
			CompanyID: input.Body.CompanyID,
			AgentID:   input.Body.AgentID,
			EventType: input.Body.EventType,
			Payload:   input.Body.Payload,
			ToAgent:   input.Body.ToAgent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventAcceptedResponse `json:"body"`
		}{Body: EventAcceptedResponse{
			EventID:         evt.ID,
			Timestamp:       evt.Timestamp,
			Status:          "accepted",
			InferredActions: evt.InferredActions,
		}}, nil
	})
}

func registerMovements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-movement-progress",
		Method:      http.MethodPatch,
		Path:        "/movements/{movement_id}/progress",
		Summary:     "Report animation progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MovementID string                `path:"movement_id"`
		Body       UpdateProgressRequest `json:"body"`
	}) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		m, err := e.UpdateMovementProgress(ctx, input.MovementID, input.Body.Progress)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: ProgressResponse{MovementID: m.ID, Progress: m.Progress}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-movement",
		Method:      http.MethodPost,
		Path:        "/movements/{movement_id}/complete",
		Summary:     "Complete a movement",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MovementID string `path:"movement_id"`
	}) (*struct {
		Body CompleteResponse `json:"body"`
	}, error) {
		m, err := e.CompleteMovement(ctx, input.MovementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompleteResponse `json:"body"`
		}{Body: CompleteResponse{MovementID: m.ID, Status: "completed"}}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List role styling",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RoleConfigResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoleConfigs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []RoleConfigResponse{}
		for _, rc := range items {
			res = append(res, roleConfigResponse(rc))
		}
		return &struct {
			Body []RoleConfigResponse `json:"body"`
		}{Body: res}, nil
	})
}
