package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wallace-lab/wallace/internal/dispatch"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusEmpty   = "empty"
)

// errorBody is the envelope of a rejected request.
type errorBody struct {
	Status    string         `json:"status"`
	ErrorType dispatch.Class `json:"error_type"`
	Message   string         `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response", "error", err)
	}
}

// writeSuccess answers 200 with value under key. An empty key sends the bare
// success envelope.
func writeSuccess(w http.ResponseWriter, key string, value any) {
	body := map[string]any{"status": statusSuccess}
	if key != "" {
		body[key] = value
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError maps err onto the error envelope. Request errors keep their
// class; anything else is reported as a generic failure.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrEmptyResult) {
		writeJSON(w, http.StatusForbidden, map[string]string{"status": statusEmpty})
		return
	}

	var re *dispatch.RequestError
	if errors.As(err, &re) {
		writeJSON(w, http.StatusForbidden, errorBody{Status: statusError, ErrorType: re.Class, Message: re.Message})
		return
	}

	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Status:    statusError,
		ErrorType: dispatch.ClassOperationFailed,
		Message:   "operation failed",
	})
}
