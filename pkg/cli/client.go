package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/repwatch/pkg/httputil"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// apiError is a non-2xx server response
type apiError struct {
	Status  int
	Message string
	Details map[string]any
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if hint, ok := e.Details["message"].(string); ok && hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}

// call sends body as JSON and decodes a successful response into out
func call(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp httputil.ErrorResponse
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Message: errResp.Error, Details: errResp.Details}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
