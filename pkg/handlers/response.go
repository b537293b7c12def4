package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/loomnotes/loom-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps service-layer errors onto HTTP status codes.
func ServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		status    int
		errorCode string
	)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, errorCode = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInspectionInProgress):
		status, errorCode = http.StatusConflict, "inspection_in_progress"
	case errors.Is(err, apperrors.ErrSelfParent), errors.Is(err, apperrors.ErrConflict):
		status, errorCode = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrForbidden):
		status, errorCode = http.StatusForbidden, "forbidden"
	default:
		status, errorCode = http.StatusInternalServerError, "internal_error"
		logger.Error("request failed", zap.Error(err))
	}
	if writeErr := ErrorResponse(w, status, errorCode, err.Error()); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
