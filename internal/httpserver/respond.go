package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/benthamhq/bentham/pkg/apierror"
)

// envelope is the standard JSON response shape every /v1 route shares:
// exactly one of Data/Error is populated.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *errBody `json:"error,omitempty"`
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Respond writes a successful JSON envelope with the given status and data.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

// RespondError writes a failing JSON envelope whose status is derived
// from code's taxonomy mapping (apierror.HTTPStatus).
func RespondError(w http.ResponseWriter, code apierror.Code, message string) {
	writeEnvelope(w, apierror.HTTPStatus(code), envelope{
		Success: false,
		Error:   &errBody{Code: string(code), Message: message},
	})
}

// RespondAPIError writes a failing envelope from a *apierror.Error, using
// its own HTTP status mapping.
func RespondAPIError(w http.ResponseWriter, err *apierror.Error) {
	RespondError(w, err.Code, err.Message)
}

func writeEnvelope(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(e); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
