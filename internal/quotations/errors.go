package quotations

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("quotation not found")
	ErrInvalidStatus = errors.New("invalid status transition")
	ErrValidation    = errors.New("validation failed")
	ErrAccessDenied  = errors.New("access link does not match quotation")
	// ErrDelivery marks a committed change whose follow-up call (email, payment provider) failed.
	ErrDelivery = errors.New("delivery failed")
)

// transitions lists the statuses each status may move to.
var transitions = map[Status][]Status{
	StatusDraft:    {StatusSent},
	StatusSent:     {StatusSent, StatusApproved, StatusRejected, StatusExpired},
	StatusApproved: {StatusPaid, StatusConverted},
	StatusPaid:     {StatusConverted},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}
	return nil
}

func requireStatus(current Status, op string, allowed ...Status) error {
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s a %s quotation", ErrInvalidStatus, op, current)
}
