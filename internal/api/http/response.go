package apihttp

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"residence-cloud/internal/apperr"
)

const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeValidation     = "validation_error"
	ErrCodeConflict       = "conflict"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_server_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Logger receives internal errors hidden from clients. Set once at startup.
var Logger = logrus.StandardLogger()

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps err onto the error taxonomy and writes the JSON body.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		Logger.WithError(err).Error("internal error")
	}
	WriteJSON(w, status, body)
}

func classify(err error) (int, ErrorResponse) {
	var bulk *apperr.BulkError
	switch {
	case errors.As(err, &bulk):
		return http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidation, Message: "bulk validation failed", Details: bulk.Rows}
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidation, Message: err.Error()}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, ErrorResponse{Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Code: ErrCodeForbidden, Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: ErrCodeInternal, Message: "internal server error"}
}

// WriteFile writes a binary attachment.
func WriteFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
