package api

import (
	"net/http"

	"github.com/platinummonkey/repwatch/pkg/httputil"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// listPlans returns every tier in upgrade order with pricing and features
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	tiers := plans.UpgradePath()
	out := make([]PlanResponse, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, PlanResponse{
			Pricing:  s.pricing[tier],
			Features: s.svc.Snapshot(tier).Features,
		})
	}
	httputil.WriteSuccess(w, out)
}

// getPlanFeature answers a tier/feature query without a subject
func (s *Server) getPlanFeature(w http.ResponseWriter, r *http.Request) {
	tier, ok := pathTier(w, r)
	if !ok {
		return
	}
	key, ok := pathFeature(w, r)
	if !ok {
		return
	}

	httputil.WriteSuccess(w, s.featureCheck(tier, key, 0))
}

func (s *Server) featureCheck(tier plans.PlanTier, key plans.FeatureKey, used int64) FeatureCheckResponse {
	resp := FeatureCheckResponse{
		Feature:   key,
		Tier:      tier,
		Allowed:   s.svc.CanUseFeature(tier, key, used),
		Usage:     used,
		Limit:     s.svc.FeatureLimit(tier, key),
		Unlimited: s.svc.IsFeatureUnlimited(tier, key),
		Message:   s.svc.UpgradeMessage(tier, key),
	}
	resp.UpgradeTo, resp.UpgradeRequired = s.svc.UpgradeRequired(tier, key)
	return resp
}

// pathTier reads {tier}. Unlike plan records, a tier named in a URL must be
// known exactly.
func pathTier(w http.ResponseWriter, r *http.Request) (plans.PlanTier, bool) {
	raw, ok := httputil.PathStringOrError(w, r, "tier")
	if !ok {
		return "", false
	}
	tier := plans.PlanTier(raw)
	if !tier.IsValid() {
		httputil.WriteNotFound(w, "unknown plan: "+raw)
		return "", false
	}
	return tier, true
}

func pathFeature(w http.ResponseWriter, r *http.Request) (plans.FeatureKey, bool) {
	raw, ok := httputil.PathStringOrError(w, r, "feature")
	if !ok {
		return "", false
	}
	key := plans.FeatureKey(raw)
	if !key.IsKnown() {
		httputil.WriteNotFound(w, "unknown feature: "+raw)
		return "", false
	}
	return key, true
}
