package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"scriptline/internal/domain"
	"scriptline/internal/engine"
	"scriptline/internal/repo"
	"scriptline/internal/store"
	"scriptline/internal/telemetry"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Repo backs API key authentication; it may be zero when only JWT is used.
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Metrics  *telemetry.Metrics
	Logger   *zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"script with id \"x\" not found"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine  engine.Engine
	metrics *telemetry.Metrics
	log     *zerolog.Logger
}

// New returns an HTTP handler exposing the script API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Store == nil {
		return nil, errors.New("engine store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.JWTSecret == "" && cfg.Repo.DB == nil && !cfg.Auth.Disabled {
		return nil, errors.New("no authentication method configured")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics("")
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return frameworkError(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return frameworkError(status, msg, errs)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	router.Handle("/metrics", metrics.Handler())
	hcfg := huma.DefaultConfig("Scriptline API", "0.1.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, metrics: metrics, log: logger}
	registerHealth(group)
	h.registerScripts(group)
	h.registerTransfer(group)
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

// frameworkError wraps request decoding and schema validation failures, which
// are reported as 400 bad_request.
func frameworkError(status int, msg string, errs []error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	var details map[string]any
	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		details = map[string]any{"errors": msgs}
	}
	return newAPIError(status, "", msg, details)
}

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		partial   *engine.PartialImportError
		corrupt   *engine.CorruptDocumentError
		ambiguous *engine.AmbiguousNameError
		invalid   validator.ValidationErrors
	)
	switch {
	case errors.As(err, &partial):
		causes := make(map[string]string, len(partial.Failed))
		for _, id := range partial.Failed {
			causes[id] = partial.Errors[id].Error()
		}
		return newAPIError(http.StatusUnprocessableEntity, "partial_import", err.Error(), map[string]any{"failed": partial.Failed, "errors": causes})
	case errors.As(err, &corrupt):
		return newAPIError(http.StatusBadRequest, "corrupt_document", err.Error(), map[string]any{"key": corrupt.Key, "id": corrupt.ID})
	case errors.As(err, &ambiguous):
		return newAPIError(http.StatusConflict, "ambiguous_name", err.Error(), map[string]any{"name": ambiguous.Name})
	case errors.Is(err, store.ErrAmbiguousName):
		return newAPIError(http.StatusConflict, "ambiguous_name", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrNameConflict):
		return newAPIError(http.StatusConflict, "name_conflict", err.Error(), nil)
	case errors.As(err, &invalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		h.log.Error().Err(err).Msg("request failed")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

// actorContext carries the authenticated actor down to the store for audit.
func actorContext(ctx context.Context) context.Context {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return store.WithActor(ctx, p.ActorID)
	}
	return ctx
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func (h handlers) registerScripts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-scripts",
		Method:      http.MethodGet,
		Path:        "/scripts",
		Summary:     "List scripts, optionally only those with a given name",
	}, func(ctx context.Context, input *struct {
		Name string `query:"name"`
	}) (*struct {
		Body ScriptListResponse `json:"body"`
	}, error) {
		items, err := h.engine.GetScripts(ctx)
		h.metrics.Observe("list", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		out := make([]domain.Script, 0, len(items))
		for _, s := range items {
			if input.Name == "" || s.Name == input.Name {
				out = append(out, s)
			}
		}
		return &struct {
			Body ScriptListResponse `json:"body"`
		}{Body: ScriptListResponse{Items: out}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-script",
		Method:      http.MethodGet,
		Path:        "/scripts/{id}",
		Summary:     "Get script",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Script `json:"body"`
	}, error) {
		s, err := h.engine.GetScript(ctx, input.ID)
		h.metrics.Observe("get", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Script `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-script",
		Method:      http.MethodPut,
		Path:        "/scripts/{id}",
		Summary:     "Create or replace script",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body ScriptBody `json:"body"`
	}) (*struct {
		Body domain.Script `json:"body"`
	}, error) {
		s, err := h.engine.PutScript(actorContext(ctx), input.ID, input.Body.script())
		h.metrics.Observe("put", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Script `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-script",
		Method:        http.MethodDelete,
		Path:          "/scripts/{id}",
		Summary:       "Delete script",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		err := h.engine.DeleteScript(actorContext(ctx), input.ID)
		h.metrics.Observe("delete", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (h handlers) registerTransfer(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "export-script",
		Method:      http.MethodGet,
		Path:        "/scripts/{id}/export",
		Summary:     "Export one script by id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ScriptExport `json:"body"`
	}, error) {
		doc, err := h.engine.ExportScript(ctx, input.ID)
		h.metrics.Observe("export", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		h.metrics.Exported(len(doc.Entities))
		return &struct {
			Body domain.ScriptExport `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-scripts",
		Method:      http.MethodGet,
		Path:        "/export",
		Summary:     "Export all scripts, or the one with a given name",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name string `query:"name"`
	}) (*struct {
		Body domain.ScriptExport `json:"body"`
	}, error) {
		var (
			doc domain.ScriptExport
			err error
		)
		if input.Name != "" {
			doc, err = h.engine.ExportScriptByName(ctx, input.Name)
		} else {
			doc, err = h.engine.ExportScripts(ctx)
		}
		h.metrics.Observe("export", err)
		if err != nil {
			return nil, h.handleError(err)
		}
		h.metrics.Exported(len(doc.Entities))
		return &struct {
			Body domain.ScriptExport `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-scripts",
		Method:      http.MethodPost,
		Path:        "/import",
		Summary:     "Import an export document, optionally only scripts with a given name",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Name string        `query:"name"`
		Body ImportRequest `json:"body"`
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		doc := input.Body.document()
		selected := 0
		for _, s := range doc.Entities {
			if input.Name == "" || s.Name == input.Name {
				selected++
			}
		}
		ok, err := h.engine.ImportScripts(actorContext(ctx), input.Name, doc)
		h.metrics.Observe("import", err)
		var partial *engine.PartialImportError
		switch {
		case err == nil:
			h.metrics.Imported(selected, 0)
		case errors.As(err, &partial):
			h.metrics.Imported(partial.Attempted-len(partial.Failed), len(partial.Failed))
		}
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ImportResponse `json:"body"`
		}{Body: ImportResponse{Imported: ok, Count: selected}}, nil
	})
}
