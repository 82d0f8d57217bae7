package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// MaxBodyBytes caps the request bodies ParseJSON will read
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is returned by ParseJSON when the request has no body
var ErrEmptyBody = errors.New("request body is required")

// ParseJSON decodes a single JSON value from the request body into dest
func ParseJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: unexpected data after the request object")
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathString extracts a required string path parameter
func PathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// PathStringOrError extracts a string path parameter and writes error on failure
func PathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := PathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// QueryInt64 parses an optional integer query parameter
func QueryInt64(r *http.Request, key string, defaultValue int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, raw)
	}
	return val, nil
}
