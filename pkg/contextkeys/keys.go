// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on one typed key per value.
//
//	ctx = contextkeys.WithSubject(ctx, subject)
//	subject, ok := contextkeys.GetSubject(ctx).(*entitlements.Subject)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SubjectKey contains *entitlements.Subject
	// Set by: middleware.SubjectContext
	// Required by: feature gates, subject-scoped handlers
	SubjectKey Key = "subject"

	// SubjectIDKey contains the subject ID string
	// Set by: middleware.SubjectContext
	// Used by: request logger, audit trail
	SubjectIDKey Key = "subject_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: request logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.RequestLoggingMiddleware
	LoggerKey Key = "logger"
)

// WithSubject adds the acting subject to the context
func WithSubject(ctx context.Context, subject any) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// GetSubject returns the acting subject or nil
func GetSubject(ctx context.Context) any {
	return ctx.Value(SubjectKey)
}

// WithSubjectID adds the subject ID to the context
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, SubjectIDKey, subjectID)
}

// GetSubjectID retrieves the subject ID from context
func GetSubjectID(ctx context.Context) string {
	if id, ok := ctx.Value(SubjectIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger any) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
