package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush keeps SSE streaming working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestIDMiddleware accepts a client-supplied X-Request-ID or mints
// one, echoes it back, and threads it through the context so every
// log line of the request carries it.
func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := observability.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, metricsPath(r.URL.Path),
			strconv.Itoa(wrapped.status), time.Since(start).Seconds())
	})
}

// metricsPath collapses path parameters so run and conversation ids do
// not explode the label space.
func metricsPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return path
	}
	switch parts[2] {
	case "chat":
		switch len(parts) {
		case 4:
			return "/api/v1/chat/:id"
		case 5:
			return "/api/v1/chat/:id/" + parts[4]
		}
	case "stream":
		if len(parts) == 4 {
			return "/api/v1/stream/:run_id"
		}
	case "artifacts":
		switch len(parts) {
		case 4:
			return "/api/v1/artifacts/:session_id"
		case 5:
			return "/api/v1/artifacts/:session_id/:id"
		case 6:
			return "/api/v1/artifacts/:session_id/:id/versions"
		case 7:
			return "/api/v1/artifacts/:session_id/:id/versions/:n"
		}
	case "auth":
		if len(parts) == 5 && parts[3] == "users" {
			return "/api/v1/auth/users/:id"
		}
	}
	return path
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// handlerWithUser is a route handler that requires an authenticated
// caller.
type handlerWithUser func(w http.ResponseWriter, r *http.Request, user *models.User)

// withUser authenticates the request and hands the resolved user to
// the handler. The user also lands on the context for logging.
func (s *Server) withUser(next handlerWithUser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		ctx = observability.WithUserID(ctx, user.ID)
		next(w, r.WithContext(ctx), user)
	}
}

// withAdmin additionally requires the admin role.
func (s *Server) withAdmin(next handlerWithUser) http.HandlerFunc {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user *models.User) {
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		next(w, r, user)
	})
}

// authenticate resolves the caller from a bearer token, falling back
// to a token query parameter for EventSource clients that cannot set
// headers.
func (s *Server) authenticate(r *http.Request) (*models.User, error) {
	token := ""
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return s.auth.ValidateToken(r.Context(), token)
}
