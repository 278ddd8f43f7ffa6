package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vedran77/converse/internal/service"
	"github.com/vedran77/converse/internal/transport/http/middleware"
	"github.com/vedran77/converse/pkg/validator"
)

type ConversationHandler struct {
	convService *service.ConversationService
}

func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// FindOrCreateDirect opens (or returns) the direct conversation with
// another user.
func (h *ConversationHandler) FindOrCreateDirect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.UserID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	conv, err := h.convService.FindOrCreateDirect(r.Context(), userID, input.UserID)
	if err != nil {
		writeServiceError(w, "find or create direct conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateGroup(input.Name, input.Members); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	conv, err := h.convService.CreateGroup(r.Context(), userID, input.Name, input.Members)
	if err != nil {
		writeServiceError(w, "create group", err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.convService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	conv, err := h.convService.GetByID(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.convService.AddMembers(r.Context(), r.PathValue("id"), userID, input.Members); err != nil {
		writeServiceError(w, "add members", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.convService.RemoveMember(r.Context(), r.PathValue("id"), userID, r.PathValue("uid")); err != nil {
		writeServiceError(w, "remove member", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.convService.Leave(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, "leave conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.convService.Rename(r.Context(), r.PathValue("id"), userID, input.Name); err != nil {
		writeServiceError(w, "rename group", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.convService.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, "delete conversation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
