package adplatform

import (
	"fmt"
	"regexp"
)

var creativeKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.\-]*$`)

// MinimumBudget returns the per-platform budget floor in cents. Unknown
// platforms get the strictest floor.
func MinimumBudget(platform string) int64 {
	switch platform {
	case PlatformMeta:
		return metaMinBudgetCents
	case PlatformTikTok:
		return tiktokMinBudgetCents
	case PlatformGoogle:
		return googleMinBudgetCents
	case PlatformMock:
		return mockMinBudgetCents
	default:
		return tiktokMinBudgetCents
	}
}

// validateSpec runs the shared pre-flight checks in a fixed order: budget
// first, then creative key, then targeting ranges. Platforms with stricter
// rules layer their own checks on top.
func validateSpec(platform string, spec CampaignSpec, minBudgetCents int64) error {
	if spec.BudgetCents < minBudgetCents {
		return &InsufficientBudgetError{
			Platform:       platform,
			RequestedCents: spec.BudgetCents,
			MinimumCents:   minBudgetCents,
		}
	}
	if spec.CreativeKey == "" || !creativeKeyPattern.MatchString(spec.CreativeKey) {
		return &CreativeNotFoundError{Key: spec.CreativeKey}
	}
	return validateTargeting(platform, spec.Targeting)
}

func validateTargeting(platform string, t Targeting) error {
	if t.AgeMin == 0 && t.AgeMax == 0 {
		// No age constraints requested; platforms apply their defaults.
		return nil
	}
	if t.AgeMin < 13 {
		return &InvalidTargetingError{Platform: platform, Details: fmt.Sprintf("age_min %d below minimum 13", t.AgeMin)}
	}
	if t.AgeMax > 65 {
		return &InvalidTargetingError{Platform: platform, Details: fmt.Sprintf("age_max %d above maximum 65", t.AgeMax)}
	}
	if t.AgeMax < t.AgeMin {
		return &InvalidTargetingError{Platform: platform, Details: fmt.Sprintf("age_max %d below age_min %d", t.AgeMax, t.AgeMin)}
	}
	return nil
}
