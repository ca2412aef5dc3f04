package domain

import "time"

// EligibilityDecision is the derived (never persisted) answer to "can this
// wallet claim a support grant right now, and for how much".
type EligibilityDecision struct {
	Eligible       bool       `json:"eligible"`
	Amount         int64      `json:"amount"`
	Reason         string     `json:"reason,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}
