package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/api"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/observability"
)

//go:embed openapi.yaml
var rawSpec []byte

var (
	swaggerOnce sync.Once
	swagger     *openapi3.T
	swaggerErr  error
)

// GetSwagger returns the parsed OpenAPI document served at /openapi.yaml.
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		swagger, swaggerErr = openapi3.NewLoader().LoadFromData(rawSpec)
	})
	return swagger, swaggerErr
}

// Server serves the operation surface over REST and the dashboard stream over SSE.
type Server struct {
	Service  *api.Service
	Hub      *observability.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer exposes the given registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithVersion sets the build version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewHandler creates the HTTP handler. hub may be nil, which disables /sessions/{id}/events.
func NewHandler(service *api.Service, hub *observability.Hub, opts ...Option) http.Handler {
	s := &Server{
		Service: service,
		Hub:     hub,
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(rawSpec)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.InitSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.DeleteSession)
			r.Post("/enter", s.operation(api.OpNodeEnter))
			r.Post("/complete", s.operation(api.OpNodeComplete))
			r.Post("/route", s.operation(api.OpRouteDecision))
			r.Post("/human-input", s.operation(api.OpRequestHumanInput))
			r.Post("/context", s.operation(api.OpSetSharedContext))
			r.Get("/context/{key}", s.GetSharedContext)
			r.Post("/subagents", s.operation(api.OpSpawnSubagent))
			r.Post("/complete-execution", s.operation(api.OpCompleteExecution))
			r.Get("/state", s.operation(api.OpGetExecutionState))
			r.Get("/trace", s.operation(api.OpGetExecutionTrace))
			r.Get("/events", s.SubscribeEvents)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	lifecycle.Go(ctx, func(ctx context.Context) error {
		logger.Info("HTTP Server listening", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("Shutdown signal received, shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if doc, err := GetSwagger(); err == nil && doc.Info != nil {
		apiVersion = doc.Info.Version
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "agentrun-http",
		"version":     s.version,
		"api_version": apiVersion,
	})
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Service.Manager().List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// InitSession handles the POST /sessions request.
func (s *Server) InitSession(w http.ResponseWriter, r *http.Request) {
	args, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	res, err := s.Service.Call(r.Context(), api.OpAgentInit, args)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.Service.Manager().Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSharedContext handles the GET /sessions/{id}/context/{key} request.
func (s *Server) GetSharedContext(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var key string
	if err := runtime.BindStyledParameterWithOptions("simple", "key", chi.URLParam(r, "key"), &key,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}
	res, err := s.Service.Call(r.Context(), api.OpGetSharedContext, map[string]any{"session_id": id, "key": key})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// operation serves a session-scoped operation. The JSON body, if any, carries the
// operation arguments; the session comes from the path.
func (s *Server) operation(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessionID(w, r)
		if !ok {
			return
		}
		args := map[string]any{}
		if r.Method == http.MethodPost {
			if args, ok = s.decodeBody(w, r); !ok {
				return
			}
		}
		args["session_id"] = id

		res, err := s.Service.Call(r.Context(), op, args)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	if err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return "", false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	args := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		s.writeError(w, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidArgument, err))
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// StatusCode maps an operation error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUninitializedSession),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionCompleted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidCompletionStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// SubscribeEvents handles the GET /sessions/{id}/events request (SSE).
// The first message is always full_state; watch filters the live messages.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "Streaming disabled", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	var watch []string
	if err := runtime.BindQueryParameter("form", false, false, "watch", r.URL.Query(), &watch); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}
	wanted := make(map[observability.MessageType]bool, len(watch))
	for _, name := range watch {
		wanted[observability.MessageType(name)] = true
	}

	sub := s.Hub.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: Dashboard subscribed", "session_id", id)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "session_id", id)
			return
		case msg, ok := <-sub.C:
			if !ok {
				// Disconnected by the hub: the client is expected to reconnect.
				return
			}
			if len(wanted) > 0 && msg.Type != observability.MessageFullState && !wanted[msg.Type] {
				continue
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("SSE: Failed to encode message", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload)
			flusher.Flush()
		}
	}
}
