package plans

import (
	"fmt"
)

// FeatureSet maps every feature key to its value for one tier
type FeatureSet map[FeatureKey]FeatureValue

// Get returns the value for key. Unknown keys report false.
func (s FeatureSet) Get(key FeatureKey) (FeatureValue, bool) {
	v, ok := s[key]
	return v, ok
}

func (s FeatureSet) clone() FeatureSet {
	out := make(FeatureSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Catalog is the immutable mapping from tier to feature set.
// Lookups never hand out the internal maps.
type Catalog struct {
	sets map[PlanTier]FeatureSet
}

// NewCatalog builds a catalog from per-tier feature sets.
// The input is copied; later changes to it do not affect the catalog.
func NewCatalog(sets map[PlanTier]FeatureSet) *Catalog {
	c := &Catalog{sets: make(map[PlanTier]FeatureSet, len(sets))}
	for tier, set := range sets {
		c.sets[tier] = set.clone()
	}
	return c
}

// Lookup returns a copy of the feature set for tier.
// Unknown tiers get the free set; a recognized plan is required for anything more.
func (c *Catalog) Lookup(tier PlanTier) FeatureSet {
	return c.set(tier).clone()
}

// Value returns a single feature value for tier without copying the set
func (c *Catalog) Value(tier PlanTier, key FeatureKey) (FeatureValue, bool) {
	v, ok := c.set(tier)[key]
	return v, ok
}

func (c *Catalog) set(tier PlanTier) FeatureSet {
	if set, ok := c.sets[tier]; ok && tier.IsValid() {
		return set
	}
	return c.sets[PlanFree]
}

// CatalogError describes the first invariant violation found by Validate
type CatalogError struct {
	Tier    PlanTier
	Feature FeatureKey
	Reason  string
}

func (e *CatalogError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("invalid catalog: tier %s: %s", e.Tier, e.Reason)
	}
	return fmt.Sprintf("invalid catalog: tier %s feature %s: %s", e.Tier, e.Feature, e.Reason)
}

// Validate checks totality and monotonicity of the catalog.
//
// Every tier must define every known feature with the declared kind, and no
// feature may lose capability when moving up the upgrade path.
func (c *Catalog) Validate() error {
	keys := Keys()
	for _, tier := range upgradePath {
		set, ok := c.sets[tier]
		if !ok {
			return &CatalogError{Tier: tier, Reason: "missing feature set"}
		}
		for _, key := range keys {
			v, ok := set[key]
			if !ok {
				return &CatalogError{Tier: tier, Feature: key, Reason: "missing value"}
			}
			kind, _ := KindOf(key)
			if v.Kind() != kind {
				return &CatalogError{Tier: tier, Feature: key,
					Reason: fmt.Sprintf("expected %s value, got %s", kind, v.Kind())}
			}
			if v.Kind() == KindQuantity && v.Limit() < Unlimited {
				return &CatalogError{Tier: tier, Feature: key,
					Reason: fmt.Sprintf("negative limit %d", v.Limit())}
			}
		}
	}

	for i := 1; i < len(upgradePath); i++ {
		lower, higher := upgradePath[i-1], upgradePath[i]
		for _, key := range keys {
			lo, hi := c.sets[lower][key], c.sets[higher][key]
			if !hi.AtLeast(lo) {
				return &CatalogError{Tier: higher, Feature: key,
					Reason: fmt.Sprintf("capability %s is below %s tier value %s", hi, lower, lo)}
			}
		}
	}

	return nil
}

// DefaultCatalog returns the built-in capability matrix
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultFeatureSets())
}

func defaultFeatureSets() map[PlanTier]FeatureSet {
	return map[PlanTier]FeatureSet{
		PlanFree: {
			FeatureRealTimeMonitoring: Bool(false),
			FeatureSentimentAnalysis:  Bool(false),
			FeatureEmailAlerts:        Bool(true),
			FeatureDataExport:         Bool(false),
			FeatureAdvancedAnalytics:  Bool(false),
			FeatureCompetitorTracking: Bool(false),
			FeatureCustomReports:      Bool(false),
			FeatureAPIAccess:          Bool(false),
			FeatureCrisisAlerts:       Bool(false),
			FeatureWhiteLabel:         Bool(false),
			FeaturePrioritySupport:    Bool(false),
			FeatureDedicatedManager:   Bool(false),

			FeatureMaxSocialAccounts:   Quantity(1),
			FeatureMaxMonthlyCredits:   Quantity(100),
			FeatureMaxTrackedKeywords:  Quantity(5),
			FeatureMaxTeamMembers:      Quantity(1),
			FeatureMaxReportsPerMonth:  Quantity(0),
			FeatureMaxScheduledReports: Quantity(0),
			FeatureDataRetentionDays:   Quantity(7),
		},
		PlanBasic: {
			FeatureRealTimeMonitoring: Bool(true),
			FeatureSentimentAnalysis:  Bool(true),
			FeatureEmailAlerts:        Bool(true),
			FeatureDataExport:         Bool(true),
			FeatureAdvancedAnalytics:  Bool(false),
			FeatureCompetitorTracking: Bool(false),
			FeatureCustomReports:      Bool(false),
			FeatureAPIAccess:          Bool(false),
			FeatureCrisisAlerts:       Bool(false),
			FeatureWhiteLabel:         Bool(false),
			FeaturePrioritySupport:    Bool(false),
			FeatureDedicatedManager:   Bool(false),

			FeatureMaxSocialAccounts:   Quantity(3),
			FeatureMaxMonthlyCredits:   Quantity(1000),
			FeatureMaxTrackedKeywords:  Quantity(25),
			FeatureMaxTeamMembers:      Quantity(3),
			FeatureMaxReportsPerMonth:  Quantity(10),
			FeatureMaxScheduledReports: Quantity(0),
			FeatureDataRetentionDays:   Quantity(30),
		},
		PlanPro: {
			FeatureRealTimeMonitoring: Bool(true),
			FeatureSentimentAnalysis:  Bool(true),
			FeatureEmailAlerts:        Bool(true),
			FeatureDataExport:         Bool(true),
			FeatureAdvancedAnalytics:  Bool(true),
			FeatureCompetitorTracking: Bool(true),
			FeatureCustomReports:      Bool(true),
			FeatureAPIAccess:          Bool(true),
			FeatureCrisisAlerts:       Bool(true),
			FeatureWhiteLabel:         Bool(false),
			FeaturePrioritySupport:    Bool(false),
			FeatureDedicatedManager:   Bool(false),

			FeatureMaxSocialAccounts:   Quantity(10),
			FeatureMaxMonthlyCredits:   Quantity(5000),
			FeatureMaxTrackedKeywords:  Quantity(100),
			FeatureMaxTeamMembers:      Quantity(10),
			FeatureMaxReportsPerMonth:  Quantity(50),
			FeatureMaxScheduledReports: Quantity(5),
			FeatureDataRetentionDays:   Quantity(90),
		},
		PlanEnterprise: {
			FeatureRealTimeMonitoring: Bool(true),
			FeatureSentimentAnalysis:  Bool(true),
			FeatureEmailAlerts:        Bool(true),
			FeatureDataExport:         Bool(true),
			FeatureAdvancedAnalytics:  Bool(true),
			FeatureCompetitorTracking: Bool(true),
			FeatureCustomReports:      Bool(true),
			FeatureAPIAccess:          Bool(true),
			FeatureCrisisAlerts:       Bool(true),
			FeatureWhiteLabel:         Bool(true),
			FeaturePrioritySupport:    Bool(true),
			FeatureDedicatedManager:   Bool(true),

			FeatureMaxSocialAccounts:   Quantity(Unlimited),
			FeatureMaxMonthlyCredits:   Quantity(Unlimited),
			FeatureMaxTrackedKeywords:  Quantity(Unlimited),
			FeatureMaxTeamMembers:      Quantity(Unlimited),
			FeatureMaxReportsPerMonth:  Quantity(Unlimited),
			FeatureMaxScheduledReports: Quantity(Unlimited),
			FeatureDataRetentionDays:   Quantity(365),
		},
	}
}
