package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hcpsim/coachgate/internal/models"
)

// fallbackErrorBody is pre-marshaled so encoding failures never leave
// the client with an empty body.
var fallbackErrorBody = []byte(`{"status":"error","message":"internal server error"}`)

func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse: failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(fallbackErrorBody)
		return
	}
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("writeJSONResponse: failed to write response body", "error", err)
	}
}

func writeAPIError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSONResponse(w, statusCode, models.ErrorWithCode(code, message))
}
