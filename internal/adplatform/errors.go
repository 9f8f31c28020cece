package adplatform

import "fmt"

// CampaignNotFoundError reports an external id the platform does not know.
// Terminal: never retried.
type CampaignNotFoundError struct {
	Platform string
	ID       string
}

func (e *CampaignNotFoundError) Error() string {
	return fmt.Sprintf("%s: campaign %q not found", e.Platform, e.ID)
}

type InsufficientBudgetError struct {
	Platform       string
	RequestedCents int64
	MinimumCents   int64
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("%s: budget %d below platform minimum %d", e.Platform, e.RequestedCents, e.MinimumCents)
}

type InvalidTargetingError struct {
	Platform string
	Details  string
}

func (e *InvalidTargetingError) Error() string {
	return fmt.Sprintf("%s: invalid targeting: %s", e.Platform, e.Details)
}

type CreativeNotFoundError struct {
	Key string
}

func (e *CreativeNotFoundError) Error() string {
	return fmt.Sprintf("creative %q not found", e.Key)
}

// AdPlatformError is the generic transport/API failure. It is retryable by
// the queue's backoff policy up to the attempt ceiling.
type AdPlatformError struct {
	Platform  string
	Operation string
	Code      string
	Message   string
}

func (e *AdPlatformError) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %s", e.Platform, e.Operation, e.Code, e.Message)
}
