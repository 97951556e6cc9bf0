package handlers

import (
	"encoding/json"
	"net/http"
)

// Error kinds of the JSON endpoints besides the remote.FailureKind values.
const (
	kindInvalidRequest = "invalid_request"
	kindUnavailable    = "unavailable"
	kindInternal       = "internal"
)

// apiError is the error object of every JSON response, including the one
// embedded in the /connect reply.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]*apiError{"error": {Kind: kind, Message: message}})
}
