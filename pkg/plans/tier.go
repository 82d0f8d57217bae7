package plans

import "strings"

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanBasic      PlanTier = "basic"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

var upgradePath = []PlanTier{PlanFree, PlanBasic, PlanPro, PlanEnterprise}

// UpgradePath returns all tiers ordered from least to most capable
func UpgradePath() []PlanTier {
	out := make([]PlanTier, len(upgradePath))
	copy(out, upgradePath)
	return out
}

// ParseTier converts a raw plan name into a PlanTier.
// Empty or unrecognized values fail closed to PlanFree.
func ParseTier(raw string) PlanTier {
	tier := PlanTier(strings.ToLower(strings.TrimSpace(raw)))
	if tier.IsValid() {
		return tier
	}
	return PlanFree
}

// IsValid reports whether the tier is one of the known tiers
func (t PlanTier) IsValid() bool {
	return t.Rank() >= 0
}

// Rank returns the position of the tier on the upgrade path, or -1 if unknown
func (t PlanTier) Rank() int {
	for i, tier := range upgradePath {
		if tier == t {
			return i
		}
	}
	return -1
}

func (t PlanTier) String() string {
	return string(t)
}
