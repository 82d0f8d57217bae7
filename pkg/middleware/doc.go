// Package middleware provides HTTP middleware that applies plan entitlements
// to requests.
//
// # Ordering
//
// SubjectContext must run before anything that reads the subject:
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(ents.SubjectContext)        // loads X-Subject-ID into the context
//	router.Use(limits.Handler)             // per-plan request rate
//	router.Handle("/api/v1/exports", ents.RequireFeature(plans.FeatureDataExport)(exportHandler))
//
// RequireFeature answers 401 when no subject is in the context and 403 with
// the upgrade target when the plan does not allow the feature. Rate limits
// are chosen by the subject's tier; requests without a subject are limited
// by client IP.
package middleware
