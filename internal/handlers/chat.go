package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sprache-backend/internal/models"
	"sprache-backend/internal/services"
)

type conversationService interface {
	Exchange(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	List(ctx context.Context) ([]*models.Conversation, error)
	Get(ctx context.Context, id int64) (*models.Conversation, error)
	Rename(ctx context.Context, req models.RenameRequest) (*models.Conversation, error)
	Delete(ctx context.Context, id int64) error
	History(ctx context.Context, conversationID int64) ([]*models.HistoryEntry, error)
}

var _ conversationService = (*services.ConversationService)(nil)

type ChatHandler struct {
	conversations conversationService
	logger        *zap.Logger
}

func NewChatHandler(conversations conversationService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{conversations: conversations, logger: logger}
}

// Send handles POST /chat.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.conversations.Exchange(r.Context(), req)
	if err != nil {
		h.logFailure(r, "exchange failed", err)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.List(r.Context())
	if err != nil {
		h.logFailure(r, "list conversations failed", err)
		handleServiceError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseConversationID(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return
	}

	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

// Rename handles PATCH /chat.
func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req models.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	conv, err := h.conversations.Rename(r.Context(), req)
	if err != nil {
		h.logFailure(r, "rename conversation failed", err)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

// Delete handles DELETE /chat?conversationId=.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("conversationId")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Conversation ID is required", r))
		return
	}
	id, ok := parseConversationID(raw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return
	}

	if err := h.conversations.Delete(r.Context(), id); err != nil {
		h.logFailure(r, "delete conversation failed", err)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Conversation deleted"})
}

// History handles GET /chat/history?id=.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "ID is required", r))
		return
	}
	id, ok := parseConversationID(raw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return
	}

	entries, err := h.conversations.History(r.Context(), id)
	if err != nil {
		h.logFailure(r, "load history failed", err)
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": entries})
}

func (h *ChatHandler) logFailure(r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.Error(err),
	)
}

func parseConversationID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
