// Package respond centralizes the ingest/status handlers' JSON response
// writing so every endpoint encodes success and failure the same way,
// matching the teacher's respond package referenced from its own
// handler.go.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wb-go/wbf/zlog"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON writes v as the body with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("respond: failed to encode response body")
	}
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, v)
}

// Accepted writes a 202 response.
func Accepted(w http.ResponseWriter, v any) {
	JSON(w, http.StatusAccepted, v)
}

// Conflict writes a 409 response.
func Conflict(w http.ResponseWriter, v any) {
	JSON(w, http.StatusConflict, v)
}

// Fail writes {"error": message} with the given status code.
func Fail(w http.ResponseWriter, status int, err error) {
	JSON(w, status, errorBody{Error: err.Error()})
}
