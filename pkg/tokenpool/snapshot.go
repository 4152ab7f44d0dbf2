// Package tokenpool implements round-robin credential rotation with
// rate-limit probing. A pool holds an ordered set of personal access
// tokens and a rotation cursor; before a logical API call the caller
// asks the pool to ensure the current credential still has quota
// headroom, switching to the next credential when it does not.
package tokenpool

import (
	"time"
)

// Thresholds for credential rotation decisions.
const (
	// HeadroomThreshold is the minimum remaining quota a credential must
	// report before it is used for the next logical call. The buffer
	// keeps a crawl from driving a credential all the way to zero, where
	// the API starts rejecting requests outright.
	HeadroomThreshold = 100

	// RemainingUnknown is the sentinel recorded when a rate-limit probe
	// fails for any reason (network error, non-200 status, malformed
	// body). It is treated as "no headroom", so a failing probe always
	// forces rotation rather than risking a hard rate-limit rejection.
	RemainingUnknown = -1
)

// Snapshot is the last observed rate-limit state of one credential.
type Snapshot struct {
	// Remaining is the number of points left in the current window,
	// or RemainingUnknown when the probe failed.
	Remaining int `json:"remaining"`

	// Limit is the total points per window, or RemainingUnknown when
	// the probe failed.
	Limit int `json:"limit"`

	// ResetAt is when the current window resets. Zero when unknown.
	ResetAt time.Time `json:"reset_at"`

	// ObservedAt is when this snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// HasHeadroom reports whether the credential can safely issue more
// calls. The unknown sentinel never has headroom.
func (s Snapshot) HasHeadroom() bool {
	return s.Remaining >= HeadroomThreshold
}

// Unknown reports whether this snapshot came from a failed probe.
func (s Snapshot) Unknown() bool {
	return s.Remaining == RemainingUnknown
}

// TimeUntilReset returns the duration until the rate-limit window
// resets. Returns 0 if the reset time has passed or is unknown.
func (s Snapshot) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
