package payment

import "fmt"

// Attempt statuses
const (
	StatusBuilt              = "built"
	StatusVerified           = "verified"
	StatusSettled            = "settled"
	StatusVerificationFailed = "verification_failed"
	StatusSettlementFailed   = "settlement_failed"
)

// Valid state transitions: from -> []to. Settlement is reachable only through
// a successful verification of the same payload instance.
var ValidAttemptTransitions = map[string][]string{
	StatusBuilt:              {StatusVerified, StatusVerificationFailed},
	StatusVerified:           {StatusSettled, StatusSettlementFailed},
	StatusSettled:            {},
	StatusVerificationFailed: {},
	StatusSettlementFailed:   {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidAttemptTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Attempt binds one immutable signed request body to its lifecycle state.
// The same Request value is submitted to /verify and /settle; any attempt to
// settle a payload that was never verified is rejected here, not left to the
// facilitator.
type Attempt struct {
	Request FacilitatorRequest
	Status  string
}

func NewAttempt(req FacilitatorRequest) *Attempt {
	return &Attempt{Request: req, Status: StatusBuilt}
}

func (a *Attempt) Transition(to string) error {
	if !IsValidTransition(a.Status, to) {
		return fmt.Errorf("invalid payment attempt transition %s -> %s", a.Status, to)
	}
	a.Status = to
	return nil
}
