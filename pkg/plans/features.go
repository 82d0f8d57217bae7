package plans

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Unlimited is the quantity value meaning "no cap"
const Unlimited int64 = -1

// FeatureKey names one entitlement dimension
type FeatureKey string

// Boolean features
const (
	FeatureRealTimeMonitoring FeatureKey = "hasRealTimeMonitoring"
	FeatureSentimentAnalysis  FeatureKey = "hasSentimentAnalysis"
	FeatureEmailAlerts        FeatureKey = "hasEmailAlerts"
	FeatureDataExport         FeatureKey = "hasDataExport"
	FeatureAdvancedAnalytics  FeatureKey = "hasAdvancedAnalytics"
	FeatureCompetitorTracking FeatureKey = "hasCompetitorTracking"
	FeatureCustomReports      FeatureKey = "hasCustomReports"
	FeatureAPIAccess          FeatureKey = "hasAPIAccess"
	FeatureCrisisAlerts       FeatureKey = "hasCrisisAlerts"
	FeatureWhiteLabel         FeatureKey = "hasWhiteLabel"
	FeaturePrioritySupport    FeatureKey = "hasPrioritySupport"
	FeatureDedicatedManager   FeatureKey = "hasDedicatedManager"
)

// Quantity features
const (
	FeatureMaxSocialAccounts   FeatureKey = "maxSocialAccounts"
	FeatureMaxMonthlyCredits   FeatureKey = "maxMonthlyCredits"
	FeatureMaxTrackedKeywords  FeatureKey = "maxTrackedKeywords"
	FeatureMaxTeamMembers      FeatureKey = "maxTeamMembers"
	FeatureMaxReportsPerMonth  FeatureKey = "maxReportsPerMonth"
	FeatureMaxScheduledReports FeatureKey = "maxScheduledReports"
	FeatureDataRetentionDays   FeatureKey = "dataRetentionDays"
)

// FeatureKind tags a FeatureValue as boolean or quantity
type FeatureKind int

const (
	KindBool FeatureKind = iota
	KindQuantity
)

func (k FeatureKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindQuantity:
		return "quantity"
	default:
		return "unknown"
	}
}

var featureKinds = map[FeatureKey]FeatureKind{
	FeatureRealTimeMonitoring: KindBool,
	FeatureSentimentAnalysis:  KindBool,
	FeatureEmailAlerts:        KindBool,
	FeatureDataExport:         KindBool,
	FeatureAdvancedAnalytics:  KindBool,
	FeatureCompetitorTracking: KindBool,
	FeatureCustomReports:      KindBool,
	FeatureAPIAccess:          KindBool,
	FeatureCrisisAlerts:       KindBool,
	FeatureWhiteLabel:         KindBool,
	FeaturePrioritySupport:    KindBool,
	FeatureDedicatedManager:   KindBool,

	FeatureMaxSocialAccounts:   KindQuantity,
	FeatureMaxMonthlyCredits:   KindQuantity,
	FeatureMaxTrackedKeywords:  KindQuantity,
	FeatureMaxTeamMembers:      KindQuantity,
	FeatureMaxReportsPerMonth:  KindQuantity,
	FeatureMaxScheduledReports: KindQuantity,
	FeatureDataRetentionDays:   KindQuantity,
}

// Keys returns every known feature key in lexical order
func Keys() []FeatureKey {
	keys := make([]FeatureKey, 0, len(featureKinds))
	for k := range featureKinds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// KindOf returns the declared kind of a feature key
func KindOf(key FeatureKey) (FeatureKind, bool) {
	kind, ok := featureKinds[key]
	return kind, ok
}

// IsKnown reports whether the key is a declared feature
func (k FeatureKey) IsKnown() bool {
	_, ok := featureKinds[k]
	return ok
}

// FeatureValue is a tagged feature entry: either Bool or Quantity
type FeatureValue struct {
	kind    FeatureKind
	enabled bool
	limit   int64
}

// Bool creates a boolean feature value
func Bool(enabled bool) FeatureValue {
	return FeatureValue{kind: KindBool, enabled: enabled}
}

// Quantity creates a quantity feature value
func Quantity(limit int64) FeatureValue {
	return FeatureValue{kind: KindQuantity, limit: limit}
}

// Kind returns the value's tag
func (v FeatureValue) Kind() FeatureKind {
	return v.kind
}

// Enabled returns the boolean payload; false for quantities
func (v FeatureValue) Enabled() bool {
	return v.kind == KindBool && v.enabled
}

// Limit returns the quantity payload; 0 for booleans
func (v FeatureValue) Limit() int64 {
	if v.kind != KindQuantity {
		return 0
	}
	return v.limit
}

// IsUnlimited reports whether the value is a quantity equal to Unlimited
func (v FeatureValue) IsUnlimited() bool {
	return v.kind == KindQuantity && v.limit == Unlimited
}

// Grants reports whether the value gives any access at all.
// A zero quantity is the same as a disabled feature.
func (v FeatureValue) Grants() bool {
	switch v.kind {
	case KindBool:
		return v.enabled
	case KindQuantity:
		return v.limit == Unlimited || v.limit > 0
	default:
		return false
	}
}

// AtLeast reports whether v gives at least the capability of other.
// Unlimited is greater than any finite limit.
func (v FeatureValue) AtLeast(other FeatureValue) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == KindBool {
		return v.enabled || !other.enabled
	}
	if v.limit == Unlimited {
		return true
	}
	if other.limit == Unlimited {
		return false
	}
	return v.limit >= other.limit
}

func (v FeatureValue) String() string {
	if v.kind == KindBool {
		return strconv.FormatBool(v.enabled)
	}
	if v.limit == Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(v.limit, 10)
}

// MarshalJSON encodes booleans as JSON booleans and quantities as numbers
func (v FeatureValue) MarshalJSON() ([]byte, error) {
	if v.kind == KindBool {
		return json.Marshal(v.enabled)
	}
	return json.Marshal(v.limit)
}

// UnmarshalJSON accepts a JSON boolean or integer
func (v *FeatureValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("feature value must be a boolean or integer: %s", string(data))
	}
	*v = Quantity(n)
	return nil
}

var featureNames = map[FeatureKey]string{
	FeatureRealTimeMonitoring:  "Real-time monitoring",
	FeatureSentimentAnalysis:   "Sentiment analysis",
	FeatureEmailAlerts:         "Email alerts",
	FeatureDataExport:          "Data export",
	FeatureAdvancedAnalytics:   "Advanced analytics",
	FeatureCompetitorTracking:  "Competitor tracking",
	FeatureCustomReports:       "Custom reports",
	FeatureAPIAccess:           "API access",
	FeatureCrisisAlerts:        "Crisis alerts",
	FeatureWhiteLabel:          "White label",
	FeaturePrioritySupport:     "Priority support",
	FeatureDedicatedManager:    "Dedicated account manager",
	FeatureMaxSocialAccounts:   "Social accounts",
	FeatureMaxMonthlyCredits:   "Monthly credits",
	FeatureMaxTrackedKeywords:  "Tracked keywords",
	FeatureMaxTeamMembers:      "Team members",
	FeatureMaxReportsPerMonth:  "Reports per month",
	FeatureMaxScheduledReports: "Scheduled reports",
	FeatureDataRetentionDays:   "Data retention",
}

// DisplayName returns a human readable feature name; unknown keys return the raw key
func (k FeatureKey) DisplayName() string {
	if name, ok := featureNames[k]; ok {
		return name
	}
	return string(k)
}
