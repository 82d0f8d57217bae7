package entitlements

import (
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// FeatureEntitlement is the derived view of one feature for a tier
type FeatureEntitlement struct {
	Feature   plans.FeatureKey `json:"feature"`
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	Granted   bool             `json:"granted"`
	Limit     int64            `json:"limit"`
	Unlimited bool             `json:"unlimited"`
	UpgradeTo plans.PlanTier   `json:"upgrade_to,omitempty"`
}

// Entitlements is the full derived view for a tier, sorted by feature key
type Entitlements struct {
	Tier     plans.PlanTier       `json:"tier"`
	Features []FeatureEntitlement `json:"features"`
}

// Feature returns the entry for key
func (e Entitlements) Feature(key plans.FeatureKey) (FeatureEntitlement, bool) {
	for _, f := range e.Features {
		if f.Feature == key {
			return f, true
		}
	}
	return FeatureEntitlement{}, false
}

// Snapshot derives every feature for tier from one consistent feature set
func (e *Evaluator) Snapshot(tier plans.PlanTier) Entitlements {
	tier = plans.ParseTier(string(tier))
	set := e.catalog.Lookup(tier)

	out := Entitlements{Tier: tier}
	for _, key := range plans.Keys() {
		v, ok := set.Get(key)
		if !ok {
			continue
		}
		entry := FeatureEntitlement{
			Feature:   key,
			Name:      key.DisplayName(),
			Kind:      v.Kind().String(),
			Granted:   v.Grants(),
			Limit:     v.Limit(),
			Unlimited: v.IsUnlimited(),
		}
		if !entry.Granted {
			entry.UpgradeTo, _ = e.UpgradeRequired(tier, key)
		}
		out.Features = append(out.Features, entry)
	}
	return out
}
