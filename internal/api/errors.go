package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// errorResponse is the wire shape of every error response: error_code,
// message, request_id. Internal detail is never exposed.
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusForKind maps the abstract error kinds to their fixed HTTP
// status.
var statusForKind = map[domain.ErrorKind]int{
	domain.KindInvalidInput:    http.StatusBadRequest,
	domain.KindUnauthorized:    http.StatusUnauthorized,
	domain.KindSchemaViolation: http.StatusUnprocessableEntity,
	domain.KindRateLimited:     http.StatusTooManyRequests,
	domain.KindNotFound:        http.StatusNotFound,
	domain.KindOutcomeConflict: http.StatusConflict,
	domain.KindConfigError:     http.StatusInternalServerError,
	domain.KindCoreFailure:     http.StatusInternalServerError,
}

// writeDomainError inspects err for a *domain.Error and writes the
// status/body its Kind maps to; anything else is a CoreFailure.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := statusForKind[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		writeError(w, status, de.Kind, de.Message, GetRequestID(r.Context()))
		return
	}
	writeError(w, http.StatusInternalServerError, domain.KindCoreFailure, "internal server error", GetRequestID(r.Context()))
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message, requestID string) {
	writeJSON(w, status, errorResponse{ErrorCode: string(kind), Message: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
