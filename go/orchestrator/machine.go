// Package orchestrator owns the payment aggregate: its state machine, the
// saga handlers that react to risk/provider/ledger events, and the HTTP
// surface for creating and reading payments.
package orchestrator

import (
	"errors"
	"fmt"
)

// Status is a payment lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusRiskReview Status = "RISK_REVIEW"
	StatusApproved   Status = "APPROVED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusSettled    Status = "SETTLED"
	StatusFailed     Status = "FAILED"
	StatusReversed   Status = "REVERSED"
)

// ErrInvalidTransition marks an attempt to move a payment along an edge the
// state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// allowedTransitions is the full transition table. SETTLED and REVERSED are
// terminal; FAILED may still be compensated into REVERSED.
var allowedTransitions = map[Status][]Status{
	StatusCreated:    {StatusRiskReview, StatusApproved, StatusFailed},
	StatusRiskReview: {StatusApproved, StatusFailed},
	StatusApproved:   {StatusAuthorized, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusFailed, StatusReversed},
	StatusCaptured:   {StatusSettled, StatusFailed, StatusReversed},
	StatusSettled:    {},
	StatusFailed:     {StatusReversed},
	StatusReversed:   {},
}

// ValidateTransition returns ErrInvalidTransition unless from→to is an
// allowed edge.
func ValidateTransition(from, to Status) error {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether a status has no outgoing edges.
func IsTerminal(s Status) bool { return len(allowedTransitions[s]) == 0 }
