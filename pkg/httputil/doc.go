// Package httputil provides HTTP handler utilities for consistent JSON
// responses, request parsing, request IDs, and panic recovery.
package httputil
