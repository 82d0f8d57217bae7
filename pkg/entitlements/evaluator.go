package entitlements

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/observability"
	"github.com/platinummonkey/repwatch/pkg/plans"
)

// upgradeScan is the order in which tiers are offered as upgrade targets
var upgradeScan = []plans.PlanTier{plans.PlanBasic, plans.PlanPro, plans.PlanEnterprise}

// Evaluator answers entitlement questions against a catalog
type Evaluator struct {
	catalog *plans.Catalog
	pricing map[plans.PlanTier]plans.Pricing
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewEvaluator creates an evaluator. A nil catalog uses the default catalog.
func NewEvaluator(catalog *plans.Catalog, log *logrus.Logger, metrics *observability.Metrics) *Evaluator {
	if catalog == nil {
		catalog = plans.DefaultCatalog()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Evaluator{
		catalog: catalog,
		pricing: plans.DefaultPricing(),
		log:     log,
		metrics: metrics,
	}
}

// Catalog returns the catalog the evaluator reads from
func (e *Evaluator) Catalog() *plans.Catalog {
	return e.catalog
}

// HasFeature reports whether tier grants key at all
func (e *Evaluator) HasFeature(tier plans.PlanTier, key plans.FeatureKey) bool {
	v, ok := e.catalog.Value(tier, key)
	return ok && v.Grants()
}

// CanUseFeature reports whether one more use of key fits under tier's limit.
// Usage defaults to 0. A quantity is usable while usage is strictly below the
// limit; "5 of 5" is not usable.
func (e *Evaluator) CanUseFeature(tier plans.PlanTier, key plans.FeatureKey, usage ...int64) bool {
	var current int64
	if len(usage) > 0 {
		current = usage[0]
	}

	v, ok := e.catalog.Value(tier, key)
	if !ok {
		return false
	}
	if v.Kind() == plans.KindBool {
		return v.Enabled()
	}
	if v.IsUnlimited() {
		return true
	}
	return current < v.Limit()
}

// FeatureLimit returns the raw quantity for key, including Unlimited and 0.
// Boolean and unknown features return 0.
func (e *Evaluator) FeatureLimit(tier plans.PlanTier, key plans.FeatureKey) int64 {
	v, ok := e.catalog.Value(tier, key)
	if !ok {
		return 0
	}
	return v.Limit()
}

// IsFeatureUnlimited reports whether key is a quantity equal to Unlimited
func (e *Evaluator) IsFeatureUnlimited(tier plans.PlanTier, key plans.FeatureKey) bool {
	v, ok := e.catalog.Value(tier, key)
	return ok && v.IsUnlimited()
}

// UpgradeRequired returns the lowest tier above free that grants key.
// The bool is false when tier already has the feature.
// If no tier grants it, enterprise is returned and the anomaly is logged.
func (e *Evaluator) UpgradeRequired(tier plans.PlanTier, key plans.FeatureKey) (plans.PlanTier, bool) {
	if e.HasFeature(tier, key) {
		return "", false
	}

	for _, candidate := range upgradeScan {
		if e.HasFeature(candidate, key) {
			return candidate, true
		}
	}

	e.log.WithFields(logrus.Fields{
		"tier":    tier,
		"feature": key,
	}).Warn("No plan grants feature, falling back to enterprise")
	e.metrics.RecordUpgradeFallback(string(key))
	return plans.PlanEnterprise, true
}

// UpgradeMessage returns a human readable upgrade hint for key
func (e *Evaluator) UpgradeMessage(tier plans.PlanTier, key plans.FeatureKey) string {
	target, needed := e.UpgradeRequired(tier, key)
	if !needed {
		return fmt.Sprintf("No upgrade needed: %s is included in your %s plan",
			key.DisplayName(), plans.ParseTier(string(tier)).DisplayName())
	}

	price, ok := e.pricing[target]
	if !ok || price.MonthlyPriceCents == 0 {
		return fmt.Sprintf("Upgrade to %s to unlock %s", target.DisplayName(), key.DisplayName())
	}
	return fmt.Sprintf("Upgrade to %s (%s/month) to unlock %s",
		target.DisplayName(), formatCents(price.MonthlyPriceCents), key.DisplayName())
}

// CheckFeature returns a *FeatureLimitError when CanUseFeature is false
func (e *Evaluator) CheckFeature(tier plans.PlanTier, key plans.FeatureKey, usage int64) error {
	allowed := e.CanUseFeature(tier, key, usage)
	e.metrics.RecordEntitlementCheck(string(key), allowed)
	if allowed {
		return nil
	}

	required, _ := e.UpgradeRequired(tier, key)
	if e.HasFeature(tier, key) {
		// Entitled but at the cap: the next tier with a higher limit
		required = e.nextHigherLimit(tier, key)
	}

	return &FeatureLimitError{
		Tier:         plans.ParseTier(string(tier)),
		Feature:      key,
		Usage:        usage,
		Limit:        e.FeatureLimit(tier, key),
		RequiredTier: required,
	}
}

// nextHigherLimit finds the first tier above tier with more room for key
func (e *Evaluator) nextHigherLimit(tier plans.PlanTier, key plans.FeatureKey) plans.PlanTier {
	current, _ := e.catalog.Value(tier, key)
	rank := plans.ParseTier(string(tier)).Rank()
	for _, candidate := range upgradeScan {
		if candidate.Rank() <= rank {
			continue
		}
		v, ok := e.catalog.Value(candidate, key)
		if ok && v.AtLeast(current) && !current.AtLeast(v) {
			return candidate
		}
	}
	return ""
}

func formatCents(cents int64) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
