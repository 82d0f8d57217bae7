package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code. The body is
// encoded before any header is sent, so an unencodable value yields a 500
// instead of a truncated success.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteDetailedError writes an error response with additional context
func WriteDetailedError(w http.ResponseWriter, status int, message string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an internal server error (500)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
}
