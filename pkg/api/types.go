package api

import (
	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// PlanResponse describes one tier with its pricing and features
type PlanResponse struct {
	plans.Pricing
	Features []entitlements.FeatureEntitlement `json:"features"`
}

// FeatureCheckResponse answers whether a tier can use a feature
type FeatureCheckResponse struct {
	Feature         plans.FeatureKey `json:"feature"`
	Tier            plans.PlanTier   `json:"tier"`
	Allowed         bool             `json:"allowed"`
	Usage           int64            `json:"usage"`
	Limit           int64            `json:"limit"`
	Unlimited       bool             `json:"unlimited"`
	UpgradeRequired bool             `json:"upgrade_required"`
	UpgradeTo       plans.PlanTier   `json:"upgrade_to,omitempty"`
	Message         string           `json:"message"`
}

// CreateSubjectRequest registers a subject
type CreateSubjectRequest struct {
	ID   string `json:"id"`
	Plan string `json:"plan"`
}

// SubjectResponse describes a subject and its recorded usage
type SubjectResponse struct {
	ID    string                     `json:"id"`
	Plan  plans.PlanTier             `json:"plan"`
	Usage map[plans.FeatureKey]int64 `json:"usage"`
}

// ChangePlanRequest moves a subject to a new plan
type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

// ChangePlanResponse reports an applied plan change
type ChangePlanResponse struct {
	SubjectID string         `json:"subject_id"`
	From      plans.PlanTier `json:"from"`
	To        plans.PlanTier `json:"to"`
}

// ConsumeRequest records metered units
type ConsumeRequest struct {
	Units int64 `json:"units"`
}

// ConsumeResponse reports usage after a consume call
type ConsumeResponse struct {
	Feature   plans.FeatureKey `json:"feature"`
	Used      int64            `json:"used"`
	Remaining int64            `json:"remaining"`
	Unlimited bool             `json:"unlimited"`
}
