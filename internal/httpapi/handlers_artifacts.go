package httpapi

import (
	"net/http"
	"strconv"

	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// sessionAllowed resolves the artifact session's owning conversation
// and applies the same ownership rule as the chat routes. Sessions
// share their conversation's id.
func (s *Server) sessionAllowed(w http.ResponseWriter, r *http.Request, user *models.User, sessionID string) bool {
	conv, err := s.conversations.Get(r.Context(), sessionID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return false
	}
	if !ownerAllowed(conv, user) {
		writeError(w, http.StatusForbidden, "forbidden", "conversation belongs to another user")
		return false
	}
	return true
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request, user *models.User) {
	sessionID := r.PathValue("session_id")
	if !s.sessionAllowed(w, r, user, sessionID) {
		return
	}

	previewLen := artifacts.DefaultPreviewLength
	if v := r.URL.Query().Get("preview"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "preview must be a non-negative integer")
			return
		}
		previewLen = n
	}
	contentType := r.URL.Query().Get("content_type")

	list, err := s.artifacts.List(r.Context(), sessionID, contentType, previewLen)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": list})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request, user *models.User) {
	sessionID := r.PathValue("session_id")
	if !s.sessionAllowed(w, r, user, sessionID) {
		return
	}

	art, err := s.artifacts.Read(r.Context(), sessionID, r.PathValue("id"), 0)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request, user *models.User) {
	sessionID := r.PathValue("session_id")
	if !s.sessionAllowed(w, r, user, sessionID) {
		return
	}

	versions, err := s.artifacts.ListVersions(r.Context(), sessionID, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request, user *models.User) {
	sessionID := r.PathValue("session_id")
	if !s.sessionAllowed(w, r, user, sessionID) {
		return
	}

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "validation_error", "version must be a positive integer")
		return
	}
	version, err := s.artifacts.GetVersion(r.Context(), sessionID, r.PathValue("id"), n)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}
