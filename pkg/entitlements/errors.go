package entitlements

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/repwatch/pkg/plans"
)

// FeatureLimitError is returned when a subject's plan does not allow a use
type FeatureLimitError struct {
	Tier         plans.PlanTier
	Feature      plans.FeatureKey
	Usage        int64
	Limit        int64
	RequiredTier plans.PlanTier // empty when no tier offers more
}

func (e *FeatureLimitError) Error() string {
	kind, _ := plans.KindOf(e.Feature)
	if kind == plans.KindBool || !e.Feature.IsKnown() {
		return fmt.Sprintf("feature %s is not available on the %s plan", e.Feature, e.Tier)
	}
	return fmt.Sprintf("feature %s limit reached on the %s plan: %d/%d", e.Feature, e.Tier, e.Usage, e.Limit)
}

// IsFeatureLimitExceeded checks if an error is a feature limit error
func IsFeatureLimitExceeded(err error) bool {
	var limitErr *FeatureLimitError
	return errors.As(err, &limitErr)
}
