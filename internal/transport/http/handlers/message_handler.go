package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vedran77/converse/internal/service"
	"github.com/vedran77/converse/internal/transport/http/middleware"
	"github.com/vedran77/converse/pkg/validator"
)

type MessageHandler struct {
	msgService *service.MessageService
}

func NewMessageHandler(msgService *service.MessageService) *MessageHandler {
	return &MessageHandler{msgService: msgService}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Text     string `json:"text"`
		ImageRef string `json:"image_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateMessage(input.Text, input.ImageRef); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.msgService.Append(r.Context(), r.PathValue("id"), userID, input.Text, input.ImageRef)
	if err != nil {
		writeServiceError(w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	msgs, err := h.msgService.List(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead clears the caller's unread counter for the conversation.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.msgService.MarkAllRead(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, "mark read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkSeen flags specific messages as read in a direct conversation.
func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if len(input.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_MESSAGE_IDS", "message_ids is required")
		return
	}

	if err := h.msgService.MarkIndividualRead(r.Context(), r.PathValue("id"), userID, input.MessageIDs); err != nil {
		writeServiceError(w, "mark seen", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
