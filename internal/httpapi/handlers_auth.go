package httpapi

import (
	"net/http"

	"github.com/artifactflow/artifactflow/pkg/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "username and password are required")
		return
	}

	token, expiresIn, user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, ExpiresIn: expiresIn, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user *models.User) {
	writeJSON(w, http.StatusOK, user)
}

type createUserRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, _ *models.User) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		writeError(w, http.StatusBadRequest, "validation_error", "role must be user or admin")
		return
	}

	created, err := s.auth.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ *models.User) {
	limit, offset := parsePage(r)
	users, err := s.auth.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type updateUserRequest struct {
	Username *string      `json:"username,omitempty"`
	Password *string      `json:"password,omitempty"`
	Role     *models.Role `json:"role,omitempty"`
	Active   *bool        `json:"active,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, _ *models.User) {
	id := r.PathValue("id")
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != nil && *req.Role != models.RoleUser && *req.Role != models.RoleAdmin {
		writeError(w, http.StatusBadRequest, "validation_error", "role must be user or admin")
		return
	}

	updated, err := s.auth.UpdateUser(r.Context(), id, req.Username, req.Password, req.Role, req.Active)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
