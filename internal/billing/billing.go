// Package billing cross-checks license keys with the payment authority (Creem).
// The authority is the source of truth for whether a subscription is paid; local
// records only refine that answer.
package billing

import (
	"context"
	"time"
)

// Status values reported by a Checker
const (
	StatusActive    = "active"
	StatusInvalid   = "invalid"
	StatusTimeout   = "timeout"
	StatusError     = "error"
	StatusUnchecked = "unchecked"
)

// UnavailableMessage is returned to agents when the authority cannot be reached
const UnavailableMessage = "Payment verification temporarily unavailable. Please try again."

// Result is the outcome of one billing check
type Result struct {
	Valid      bool
	Status     string
	ExpiresAt  *time.Time
	Error      string
	RetryAfter int
}

// Unchecked reports whether billing enforcement was skipped
func (r *Result) Unchecked() bool {
	return r.Status == StatusUnchecked
}

// Retryable reports whether the failure was the authority's, not the license's
func (r *Result) Retryable() bool {
	return r.RetryAfter > 0
}

// Checker asks the billing authority whether a license key is paid for.
// Failures are folded into the Result; Check never returns an error so callers
// cannot accidentally fail open.
type Checker interface {
	Check(ctx context.Context, licenseKey, instanceName string) *Result
}

// Unchecked is the Checker used when billing.mode=disabled
type Unchecked struct{}

// Check accepts every key
func (Unchecked) Check(context.Context, string, string) *Result {
	return &Result{Valid: true, Status: StatusUnchecked}
}
