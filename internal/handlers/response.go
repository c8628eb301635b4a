package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sprache-backend/internal/models"
	"sprache-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func errorRespWithDetail(code, message, detail string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Detail = detail
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *services.ValidationError
	var notFoundErr *services.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationErr.Fields, r))
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", notFoundErr.Message, r))
	case errors.Is(err, services.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorResp("QUOTA_EXCEEDED", services.SpeechFailureMessage, r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorRespWithDetail("INTERNAL_ERROR", "An unexpected error occurred", err.Error(), r))
	}
}
