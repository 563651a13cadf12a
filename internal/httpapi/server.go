package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgate/internal/apperr"
	"modelgate/internal/protocol"
	"modelgate/pkg/types"
)

// Service defines the methods required by the HTTP API layer. The caller's
// tenant travels in the context.
type Service interface {
	RegisterModel(ctx context.Context, spec types.ModelSpec) (*types.RegisterResponse, error)
	UnregisterModel(ctx context.Context, id string) error
	GetModel(ctx context.Context, id string) (types.ModelInfo, error)
	ListModels(ctx context.Context, status string) (*types.ModelsResponse, error)
	Health(ctx context.Context) types.HealthReport
	ModelHealth(ctx context.Context, id string) (*types.ModelHealthResponse, error)
	Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error)
	Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error)
	Embed(ctx context.Context, req types.EmbeddingRequest) (*types.EmbeddingResponse, error)
	Classify(ctx context.Context, req types.ClassificationRequest) (*types.ClassificationResponse, error)
	Stats(ctx context.Context) types.Stats
	Ready() bool
	BindRPC(methods *protocol.Methods)
}

type api struct {
	svc     Service
	methods *protocol.Methods
}

// NewMux builds the HTTP handler. Every /v1 route runs with the tenant
// resolved by res.
func NewMux(svc Service, res TenantResolver) http.Handler {
	a := &api{svc: svc, methods: protocol.NewMethods()}
	svc.BindRPC(a.methods)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	r.Route("/v1", func(r chi.Router) {
		r.Use(TenantMiddleware(res))

		r.Post("/models", a.registerModel)
		r.Get("/models", a.listModels)
		r.Get("/models/{id}", a.getModel)
		r.Delete("/models/{id}", a.unregisterModel)
		r.Get("/models/{id}/health", a.modelHealth)
		r.Get("/health", a.health)
		r.Get("/stats", a.stats)

		r.Post("/completions", a.complete)
		r.Post("/chat", a.chat)
		r.Post("/embeddings", a.embed)
		r.Post("/classify", a.classify)

		r.Post("/rpc", a.rpc)
		r.Get("/rpc/ws", a.rpcWebSocket)
	})
	return r
}

// decodeJSON reads the body into v. It writes the error response itself and
// reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, apperr.CodeInvalidRequest, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, apperr.CodeInvalidRequest, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, apperr.CodeParseError, "invalid JSON body")
		return false
	}
	return true
}

// respond runs call under a context that also ends on server shutdown and
// writes its outcome as an envelope.
func respond(w http.ResponseWriter, r *http.Request, op string, okStatus int, call func(ctx context.Context) (any, error)) {
	start := time.Now()
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	data, err := call(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away
			return
		}
		logEnd(r, op, writeError(w, err), start, err)
		return
	}
	writeData(w, okStatus, data)
	logEnd(r, op, okStatus, start, nil)
}

func modelID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, apperr.CodeInvalidParams, "model id is required")
		return "", false
	}
	return id, true
}

// registerModel godoc
// @Summary      Register a model
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header  string           false  "Tenant id"
// @Param        body         body    types.ModelSpec  true   "Model spec"
// @Success      201  {object}  types.Envelope{data=types.RegisterResponse}
// @Failure      400  {object}  types.Envelope
// @Failure      409  {object}  types.Envelope
// @Router       /v1/models [post]
func (a *api) registerModel(w http.ResponseWriter, r *http.Request) {
	var spec types.ModelSpec
	if !decodeJSON(w, r, &spec) {
		return
	}
	logDebug(r, "register", map[string]any{"name": spec.Name, "backend": spec.BackendType})
	respond(w, r, "register", http.StatusCreated, func(ctx context.Context) (any, error) {
		return a.svc.RegisterModel(ctx, spec)
	})
}

// listModels godoc
// @Summary      List models visible to the tenant
// @Tags         models
// @Produce      json
// @Param        status  query  string  false  "Status filter"
// @Success      200  {object}  types.Envelope{data=types.ModelsResponse}
// @Router       /v1/models [get]
func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	respond(w, r, "list_models", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.ListModels(ctx, r.URL.Query().Get("status"))
	})
}

// getModel godoc
// @Summary      Get one model
// @Tags         models
// @Produce      json
// @Param        id  path  string  true  "Model id"
// @Success      200  {object}  types.Envelope{data=types.ModelInfo}
// @Failure      404  {object}  types.Envelope
// @Router       /v1/models/{id} [get]
func (a *api) getModel(w http.ResponseWriter, r *http.Request) {
	id, ok := modelID(w, r)
	if !ok {
		return
	}
	respond(w, r, "get_model", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.GetModel(ctx, id)
	})
}

// unregisterModel godoc
// @Summary      Unregister a model
// @Tags         models
// @Param        id  path  string  true  "Model id"
// @Success      200  {object}  types.Envelope
// @Failure      403  {object}  types.Envelope
// @Failure      404  {object}  types.Envelope
// @Router       /v1/models/{id} [delete]
func (a *api) unregisterModel(w http.ResponseWriter, r *http.Request) {
	id, ok := modelID(w, r)
	if !ok {
		return
	}
	respond(w, r, "unregister", http.StatusOK, func(ctx context.Context) (any, error) {
		if err := a.svc.UnregisterModel(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"model_id": id}, nil
	})
}

// modelHealth godoc
// @Summary      Probe one model
// @Tags         health
// @Produce      json
// @Param        id  path  string  true  "Model id"
// @Success      200  {object}  types.Envelope{data=types.ModelHealthResponse}
// @Router       /v1/models/{id}/health [get]
func (a *api) modelHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := modelID(w, r)
	if !ok {
		return
	}
	respond(w, r, "model_health", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.ModelHealth(ctx, id)
	})
}

// health godoc
// @Summary      Probe every model visible to the tenant
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.Envelope{data=types.HealthReport}
// @Router       /v1/health [get]
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	respond(w, r, "health", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Health(ctx), nil
	})
}

// stats godoc
// @Summary      Registry and in-flight statistics
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.Envelope{data=types.Stats}
// @Router       /v1/stats [get]
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	respond(w, r, "stats", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Stats(ctx), nil
	})
}

// complete godoc
// @Summary      Text completion
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        body  body  types.CompletionRequest  true  "Completion request"
// @Success      200  {object}  types.Envelope{data=types.CompletionResponse}
// @Failure      413  {object}  types.Envelope
// @Failure      429  {object}  types.Envelope
// @Router       /v1/completions [post]
func (a *api) complete(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logDebug(r, "complete", map[string]any{"model_id": req.ModelID})
	respond(w, r, "complete", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Complete(ctx, req)
	})
}

// chat godoc
// @Summary      Chat turn
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        body  body  types.ChatRequest  true  "Chat request"
// @Success      200  {object}  types.Envelope{data=types.ChatResponse}
// @Router       /v1/chat [post]
func (a *api) chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logDebug(r, "chat", map[string]any{"model_id": req.ModelID, "messages": len(req.Messages)})
	respond(w, r, "chat", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Chat(ctx, req)
	})
}

// embed godoc
// @Summary      Embeddings
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        body  body  types.EmbeddingRequest  true  "Embedding request"
// @Success      200  {object}  types.Envelope{data=types.EmbeddingResponse}
// @Router       /v1/embeddings [post]
func (a *api) embed(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logDebug(r, "embed", map[string]any{"model_id": req.ModelID, "inputs": len(req.Input)})
	respond(w, r, "embed", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Embed(ctx, req)
	})
}

// classify godoc
// @Summary      Classification
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        body  body  types.ClassificationRequest  true  "Classification request"
// @Success      200  {object}  types.Envelope{data=types.ClassificationResponse}
// @Router       /v1/classify [post]
func (a *api) classify(w http.ResponseWriter, r *http.Request) {
	var req types.ClassificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logDebug(r, "classify", map[string]any{"model_id": req.ModelID, "labels": len(req.Labels)})
	respond(w, r, "classify", http.StatusOK, func(ctx context.Context) (any, error) {
		return a.svc.Classify(ctx, req)
	})
}
