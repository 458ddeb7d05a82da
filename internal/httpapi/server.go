// Package httpapi exposes the REST and SSE surface: auth, chat,
// streaming, and artifact inspection. Handlers stay thin; ownership
// checks live here, run semantics live in the controller.
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/controller"
	"github.com/artifactflow/artifactflow/internal/conversations"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/streams"
)

const (
	// DefaultListLimit applies when a list request has no limit.
	DefaultListLimit = 50

	// MaxListLimit caps page sizes.
	MaxListLimit = 200
)

// Server routes HTTP traffic to the controller and stores.
type Server struct {
	cfg           *config.Config
	auth          *auth.Service
	ctrl          *controller.Controller
	conversations conversations.Store
	artifacts     artifacts.Store
	streams       *streams.Manager
	logger        *observability.Logger
	metrics       *observability.Metrics

	handler http.Handler
}

// New builds the server and its route table. metrics may be nil.
func New(cfg *config.Config, authSvc *auth.Service, ctrl *controller.Controller, convs conversations.Store, arts artifacts.Store, str *streams.Manager, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	s := &Server{
		cfg:           cfg,
		auth:          authSvc,
		ctrl:          ctrl,
		conversations: convs,
		artifacts:     arts,
		streams:       str,
		logger:        logger,
		metrics:       metrics,
	}
	s.handler = s.buildHandler()
	return s
}

// Handler returns the fully wrapped route table. The caller owns the
// http.Server lifecycle.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/me", s.withUser(s.handleMe))
	mux.HandleFunc("POST /api/v1/auth/users", s.withAdmin(s.handleCreateUser))
	mux.HandleFunc("GET /api/v1/auth/users", s.withAdmin(s.handleListUsers))
	mux.HandleFunc("PUT /api/v1/auth/users/{id}", s.withAdmin(s.handleUpdateUser))

	mux.HandleFunc("POST /api/v1/chat", s.withUser(s.handleNewMessage))
	mux.HandleFunc("GET /api/v1/chat", s.withUser(s.handleListConversations))
	mux.HandleFunc("GET /api/v1/chat/{id}", s.withUser(s.handleGetConversation))
	mux.HandleFunc("DELETE /api/v1/chat/{id}", s.withUser(s.handleDeleteConversation))
	mux.HandleFunc("POST /api/v1/chat/{id}/resume", s.withUser(s.handleResume))

	mux.HandleFunc("GET /api/v1/stream/{run_id}", s.withUser(s.handleStream))

	mux.HandleFunc("GET /api/v1/artifacts/{session_id}", s.withUser(s.handleListArtifacts))
	mux.HandleFunc("GET /api/v1/artifacts/{session_id}/{id}", s.withUser(s.handleGetArtifact))
	mux.HandleFunc("GET /api/v1/artifacts/{session_id}/{id}/versions", s.withUser(s.handleListVersions))
	mux.HandleFunc("GET /api/v1/artifacts/{session_id}/{id}/versions/{n}", s.withUser(s.handleGetVersion))

	var h http.Handler = mux
	h = corsMiddleware(s.cfg.Server.CORSOrigins)(h)
	h = s.metricsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = requestIDMiddleware()(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
