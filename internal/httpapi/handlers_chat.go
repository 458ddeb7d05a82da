package httpapi

import (
	"errors"
	"net/http"

	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/controller"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/pkg/models"
)

func ownerAllowed(conv *models.Conversation, user *models.User) bool {
	return user.IsAdmin() || conv.OwnerUserID == "" || conv.OwnerUserID == user.ID
}

func (s *Server) handleNewMessage(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req controller.NewMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	started, err := s.ctrl.NewMessage(r.Context(), user.ID, user.IsAdmin(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, started)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user *models.User) {
	limit, offset := parsePage(r)

	// Non-admin callers see only their own conversations.
	ownerID := user.ID
	if user.IsAdmin() {
		ownerID = ""
	}
	convs, err := s.conversations.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// conversationTree is the full message tree; clients rebuild branches
// from parent_id links.
type conversationTree struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []*models.Message    `json:"messages"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, user *models.User) {
	id := r.PathValue("id")
	ctx := observability.WithConversationID(r.Context(), id)

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ownerAllowed(conv, user) {
		writeError(w, http.StatusForbidden, "forbidden", "conversation belongs to another user")
		return
	}
	msgs, err := s.conversations.Messages(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationTree{Conversation: conv, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, user *models.User) {
	id := r.PathValue("id")
	ctx := observability.WithConversationID(r.Context(), id)

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ownerAllowed(conv, user) {
		writeError(w, http.StatusForbidden, "forbidden", "conversation belongs to another user")
		return
	}
	if s.ctrl.Busy(id) {
		writeError(w, http.StatusConflict, "run_in_progress", "conversation has a run in progress")
		return
	}

	if err := s.conversations.Delete(ctx, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	// Artifacts cascade with the conversation.
	if err := s.artifacts.DeleteSession(ctx, id); err != nil && !errors.Is(err, artifacts.ErrSessionNotFound) {
		s.logger.Warn(ctx, "artifact session cascade failed", "conversation_id", id, "error", err)
	}
	s.ctrl.DropConversation(id)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, user *models.User) {
	conversationID := r.PathValue("id")
	var req controller.ResumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RunID == "" || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "run_id and message_id are required")
		return
	}

	started, err := s.ctrl.Resume(r.Context(), user.ID, user.IsAdmin(), conversationID, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, started)
}
