// Package shared holds the HTTP helpers every handler uses: the JSON error
// envelope and the domain-error-to-status mapping.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "manifest-gateway/pkg/domain-errors"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope with the
// matching HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: string(dErrors.CodeInternal)})
		return
	}
	WriteJSON(w, statusFor(domainErr.ErrCode), errorResponse{
		Error:   string(domainErr.ErrCode),
		Message: domainErr.Message,
	})
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidField, dErrors.CodeValidation, dErrors.CodeAssembly:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeDuplicateSubmission, dErrors.CodeConcurrentTransition:
		return http.StatusConflict
	case dErrors.CodeRejected:
		return http.StatusUnprocessableEntity
	case dErrors.CodeStatusUnresolved, dErrors.CodeTransmissionExhausted:
		return http.StatusAccepted
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
