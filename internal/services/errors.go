package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is terminal: the campaign/variant/job simply is not there and
// retrying will not make it appear.
var ErrNotFound = errors.New("not found")

// ValidationError is surfaced to the caller immediately and never retried.
// Reason is a stable machine-readable token the boundary layer can act on
// without string-matching the message.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError rejects an operation against a campaign in the wrong
// lifecycle state, e.g. launching anything that is not a draft.
type InvalidStateError struct {
	Current string
	Wanted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %q, operation requires %q", e.Current, e.Wanted)
}

// RateLimitError carries an explicit retry-after honored by the queue
// scheduler.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// QuotaExceededError surfaces only after the fallback model is also
// exhausted.
type QuotaExceededError struct {
	UserID string
	Model  string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly token quota exceeded for model %s", e.Model)
}

// ConcurrencyConflictError rejects a second in-flight optimization for the
// same campaign. Terminal for the loser; not retried automatically.
type ConcurrencyConflictError struct {
	CampaignID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("optimization already in flight for campaign %s", e.CampaignID)
}
