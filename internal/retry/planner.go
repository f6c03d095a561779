// Package retry holds the per-attempt dunning decision. The sweep that finds
// due attempts lives in internal/scheduler; this package is pure.
package retry

import "time"

// Outcome classifies a failed charge for planning purposes.
type Outcome string

const (
	OutcomeDeclined        Outcome = "declined"
	OutcomeError           Outcome = "error"
	OutcomeNoPaymentMethod Outcome = "no_payment_method"
)

// Decision is the planner verdict for one failure.
type Decision struct {
	// Retry schedules another attempt After the given delay.
	Retry bool
	After time.Duration

	// Cancel disables auto-renew; the current paid period stays active.
	Cancel bool
}

// Plan maps the nth failure (1-based, counting every failed invocation for
// the same renewal) to the next step. Declines, gateway errors and network
// timeouts share one policy. The ladder allows one retry per offset on top
// of the initial charge; the failure that exhausts it cancels auto-renew
// instead of rescheduling, so the default two-offset ladder means three
// failed attempts in total. A missing payment method is terminal: retrying
// cannot succeed until the subscriber tokenizes a new card.
func Plan(schedule []time.Duration, failureCount int, outcome Outcome) Decision {
	if outcome == OutcomeNoPaymentMethod {
		return Decision{Cancel: true}
	}
	if failureCount < 1 || failureCount > len(schedule) {
		return Decision{Cancel: true}
	}
	return Decision{Retry: true, After: schedule[failureCount-1]}
}
