package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCredentialNotFound is returned by credential repositories when no record
// exists for the owner.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrGoalNotFound is returned when an owner has no goal for the metric.
var ErrGoalNotFound = errors.New("goal not found")

// AuthReason discriminates authentication failures.
type AuthReason string

const (
	AuthUnauthenticated AuthReason = "unauthenticated"
	AuthReauthRequired  AuthReason = "reauth_required"
	AuthRefreshFailed   AuthReason = "refresh_failed"
)

// AuthError reports a credential problem. ReauthRequired is terminal and never
// retried automatically; the owner must re-run the authorization flow.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError surfaces after rate-limit retries exhaust.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit exceeded (retry after %s)", e.RetryAfter)
}

// NetworkError wraps a transport-level failure. Transient failures are retried
// internally and only surface once retries exhaust.
type NetworkError struct {
	Transient bool
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (transient=%t): %v", e.Transient, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError is a non-retryable provider response (4xx other than 401/429).
type ProviderError struct {
	Code int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: status %d", e.Code)
}

// DataIntegrityError aborts a single normalization batch whose malformed-record
// ratio exceeded the configured threshold.
type DataIntegrityError struct {
	BatchID   string
	DropRatio float64
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("batch %s dropped %.0f%% of records", e.BatchID, e.DropRatio*100)
}

// TimeoutError reports that a whole ingestion cycle exceeded its deadline.
type TimeoutError struct {
	CycleID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cycle %s timed out", e.CycleID)
}

// ValidationError rejects malformed caller input.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for field %q", e.Field)
}

// IsReauthRequired reports whether err carries AuthReauthRequired anywhere in
// its chain.
func IsReauthRequired(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == AuthReauthRequired
}
