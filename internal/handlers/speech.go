package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"sprache-backend/internal/models"
	"sprache-backend/internal/services"
)

type speaker interface {
	Speak(ctx context.Context, prompt string) ([]byte, error)
}

type SpeechHandler struct {
	speech speaker
	logger *zap.Logger
}

func NewSpeechHandler(speech speaker, logger *zap.Logger) *SpeechHandler {
	return &SpeechHandler{speech: speech, logger: logger}
}

// Speak handles POST /speech. Every synthesis failure gets the same 429 body.
func (h *SpeechHandler) Speak(w http.ResponseWriter, r *http.Request) {
	var req models.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	audio, err := h.speech.Speak(r.Context(), req.Prompt)
	if err != nil {
		var validationErr *services.ValidationError
		if errors.As(err, &validationErr) {
			handleServiceError(w, r, err)
			return
		}
		h.logger.Error("speech synthesis failed",
			zap.String("request_id", r.Header.Get("X-Request-ID")),
			zap.Error(err),
		)
		writeJSON(w, http.StatusTooManyRequests, models.MessageResponse{Message: services.SpeechFailureMessage})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
