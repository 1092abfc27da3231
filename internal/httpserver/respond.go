package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errKind string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   errKind,
		Message: message,
	})
}

// RespondAPIErr writes the error response implied by an apierr.Error, falling
// back to a generic 500 for unclassified errors.
func RespondAPIErr(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	kind := string(apierr.KindInternal)
	msg := "internal error"
	if e, ok := apierr.As(err); ok {
		kind = string(e.Kind)
		msg = e.Message
	}
	RespondError(w, status, kind, msg)
}
