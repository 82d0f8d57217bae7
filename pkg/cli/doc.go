// Package cli provides the repwatch command-line interface.
//
// # Overview
//
// The CLI inspects plan catalogs offline and talks to a running repwatch
// server for subject operations.
//
// # Commands
//
// plans: Print the plan catalog (built-in or from a YAML file)
//
//	repwatch-cli plans --catalog ./plans.yaml
//
// validate: Check a catalog file for unknown features, wrong kinds and
// non-monotonic tiers
//
//	repwatch-cli validate ./plans.yaml
//
// check: Ask the server whether a subject can use a feature
//
//	repwatch-cli check --subject acme --feature maxTrackedKeywords --usage 20
//
// change-plan: Move a subject to another plan
//
//	repwatch-cli change-plan --subject acme --plan pro
//
// consume: Record metered usage
//
//	repwatch-cli consume --subject acme --feature maxMonthlyCredits --units 10
//
// Every server command accepts --server (default http://localhost:8080) and
// --json for machine-readable output.
package cli
