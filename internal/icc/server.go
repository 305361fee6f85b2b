// Package icc implements the §4.6 inter-container communication server: a
// small authenticated HTTP surface bound to the bridge's host address that
// lets a running container call back into the runtime for tool execution,
// LLM completions, bounded context reads, and sub-agent invocation.
// Grounded on the teacher's pkg/server/http.go (functional-options
// construction, auth-middleware wiring) generalized from its A2A/a2a-go
// transport onto this runtime's own session API, and built on
// go-chi/chi/v5 — the teacher's declared-but-underused router dependency,
// exercised here for the first time.
package icc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/auth"
	"github.com/ariacorp/ariarun/internal/execution"
	"github.com/ariacorp/ariarun/internal/llm"
	"github.com/ariacorp/ariarun/internal/tools"
)

// RuntimeAPI is the subset of *runtime.Runtime this server calls into,
// narrowed so the package doesn't import runtime (which in turn imports
// every engine) just to serve HTTP.
type RuntimeAPI interface {
	SessionOwner(sessionID string) (userID, agentName string, ok bool)
	ExecuteTool(ctx context.Context, sessionID, name string, args map[string]any, permissions []string) (tools.Result, error)
	CompleteLLM(ctx context.Context, sessionID, providerName string, messages []llm.Message, toolDefs []llm.ToolDefinition) (llm.Response, error)
	ContextForPrompt(ctx context.Context, sessionID string, maxNodes, minPriority int) (string, error)
	InvokeAgent(ctx context.Context, sessionID, name, task string) (execution.FinalResult, error)
}

// Server is the §4.6 ICC HTTP server.
type Server struct {
	rt     RuntimeAPI
	tokens *auth.Minter
	log    *slog.Logger
	http   *http.Server
}

// Option configures a Server at construction time, the teacher's
// functional-options idiom (pkg/server/http.go's HTTPServerOption).
type Option func(*Server)

// WithLogger overrides the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds an ICC server bound to addr, authenticating every route
// except /health and /status against tokens minted by minter.
func New(addr string, rt RuntimeAPI, minter *auth.Minter, opts ...Option) *Server {
	s := &Server{rt: rt, tokens: minter, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/tools/{name}", s.handleToolCall)
		r.Post("/llm/complete", s.handleLLMComplete)
		r.Get("/context", s.handleContext)
		r.Post("/agents/{name}", s.handleAgentInvoke)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("icc request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(started))
	})
}

// authMiddleware validates the bearer session token per §4.6
// "Authentication", rejecting with 401 on an invalid/missing token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "missing bearer token"))
			return
		}

		claims, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, aerrors.Wrap(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "invalid session token", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "serving", "time": time.Now().UTC()})
}

// handleToolCall implements "POST /tools/{name}" (§4.6): execute a
// registry tool on the calling container's session, scoped to the
// permissions carried by its session token.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "missing claims"))
		return
	}
	name := chi.URLParam(r, "name")

	var body struct {
		Args map[string]any `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, aerrors.Wrap(aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityLow, "invalid request body", err))
		return
	}

	result, err := s.rt.ExecuteTool(r.Context(), claims.SessionID, name, body.Args, claims.Permissions)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLLMComplete implements "POST /llm/complete" (§4.6): proxy an LLM
// completion through the runtime's provider registry.
func (s *Server) handleLLMComplete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "missing claims"))
		return
	}

	var body struct {
		Provider string           `json:"provider"`
		Messages []llm.Message    `json:"messages"`
		Tools    []llm.ToolDefinition `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, aerrors.Wrap(aerrors.CodeValidationFailed, aerrors.CategoryLLM, aerrors.SeverityLow, "invalid request body", err))
		return
	}

	resp, err := s.rt.CompleteLLM(r.Context(), claims.SessionID, body.Provider, body.Messages, body.Tools)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleContext implements "GET /context" (§4.6): a bounded projection of
// the session's context tree. No redaction is applied to it.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "missing claims"))
		return
	}

	maxNodes := queryInt(r, "limit", 20)
	minPriority := queryInt(r, "min_priority", 0)

	rendered, err := s.rt.ContextForPrompt(r.Context(), claims.SessionID, maxNodes, minPriority)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": rendered})
}

// handleAgentInvoke implements "POST /agents/{name}" (§4.6): recursively
// invoke a sub-agent, depth-limited by the execution engine (§4.9).
func (s *Server) handleAgentInvoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "missing claims"))
		return
	}
	name := chi.URLParam(r, "name")
	if !claims.HasPermission("agent:" + name) {
		writeError(w, http.StatusForbidden, aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityMedium, "session token does not grant this agent"))
		return
	}

	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, aerrors.Wrap(aerrors.CodeValidationFailed, aerrors.CategoryPlanning, aerrors.SeverityLow, "invalid request body", err))
		return
	}

	final, err := s.rt.InvokeAgent(r.Context(), claims.SessionID, name, body.Task)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the §6 "Responses are JSON... {code, category, severity,
// message}" error envelope.
type errorBody struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Message: err.Error()}
	var ae *aerrors.Error
	if errors.As(err, &ae) {
		body = errorBody{Code: string(ae.Code), Category: string(ae.Category), Severity: string(ae.Severity), Message: ae.Message}
	}
	writeJSON(w, status, body)
}

func statusForErr(err error) int {
	code, ok := aerrors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case aerrors.CodeNotFound, aerrors.CodeToolNotFound:
		return http.StatusNotFound
	case aerrors.CodePermissionDenied:
		return http.StatusForbidden
	case aerrors.CodeValidationFailed:
		return http.StatusBadRequest
	case aerrors.CodeTimeout, aerrors.CodeStepTimeout, aerrors.CodeLLMTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
