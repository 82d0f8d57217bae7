// Package api provides the HTTP REST API for the repwatch entitlement engine.
//
// # Overview
//
// The API exposes the plan catalog, per-subject entitlement checks, plan
// changes and metered usage. It is built on gorilla/mux; routes are grouped
// by resource:
//
//   - Plans: list the catalog with pricing, query one tier/feature pair
//   - Subjects: create subjects, read entitlements, check a feature, change
//     plan, consume metered units
//   - Me: the same reads for the calling subject (X-Subject-ID), available
//     to plans that include API access
//
// # Usage
//
//	server := api.NewServer(svc, meter, limiter, log)
//	http.ListenAndServe(":8080", server)
//
// Extra route groups (health, metrics) attach through RegisterRoutes:
//
//	server.RegisterRoutes(healthChecker)
//
// # Error responses
//
// Errors use the httputil JSON envelope. A feature that is not on the plan or
// is at its cap yields 403 with the feature, tier, usage, limit and the tier
// that would unlock it. A plan change that could not be persisted yields 502
// and leaves the subject on its previous plan.
package api
