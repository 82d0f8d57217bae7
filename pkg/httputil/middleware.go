package httputil

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/contextkeys"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates or generates a request ID and stores it in
// the request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic":      rec,
						"stack":      string(debug.Stack()),
						"request_id": contextkeys.GetRequestID(r.Context()),
					}).Error("PANIC in HTTP handler")
					WriteInternalError(w, fmt.Errorf("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
