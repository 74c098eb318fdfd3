package subscription

import (
	"github.com/pkg/errors"

	"github.com/Susan56789/infinite-cargo-sub003/internal/util"
)

// transitions is the full lifecycle table. expired -> active is the one
// admin-override edge: Extend may reactivate a lapsed subscription with a
// fresh expiry computed from now.
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusRejected},
	StatusActive:  {StatusExpired, StatusCancelled, StatusReplaced},
	StatusExpired: {StatusActive},
}

// terminal statuses are retained forever for audit and billing history. A
// replaced subscription can never be reactivated; a fresh request is
// required.
var terminal = map[Status]bool{
	StatusExpired:   true,
	StatusRejected:  true,
	StatusCancelled: true,
	StatusReplaced:  true,
}

// CanTransition reports whether the lifecycle permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// Terminal reports whether the status is an end state of the lifecycle.
func (s Status) Terminal() bool { return terminal[s] }

func requireStatus(sub *Subscription, want Status, op string) error {
	if sub.Status == want {
		return nil
	}

	return errors.Wrapf(ErrInvalidStateTransition, "cannot %s subscription %d in status %q", op, sub.ID, sub.Status)
}

// rejectionMessages is the fixed category-to-message table. Users never see
// raw internal text; only the "other" category echoes the admin-supplied
// reason.
var rejectionMessages = map[RejectionCategory]string{
	RejectPaymentNotReceived:    "We could not confirm your payment. Please verify the transaction and submit a new request.",
	RejectInvalidPaymentDetails: "The payment details you provided could not be validated. Please check them and try again.",
	RejectDuplicateRequest:      "You already have a subscription request in progress. This duplicate request was declined.",
	RejectFraudSuspected:        "This request could not be approved. Please contact support for assistance.",
}

// RejectionMessage resolves the user-facing text for a rejection.
func RejectionMessage(category RejectionCategory, reason string) string {
	if msg, ok := rejectionMessages[category]; ok {
		return msg
	}

	// "other" and unknown categories echo the admin-supplied free text.
	return util.Strings.Coalesce(reason, "Your subscription request was declined.")
}

// ValidCategory reports whether the category is one of the fixed set.
func ValidCategory(c RejectionCategory) bool {
	switch c {
	case RejectPaymentNotReceived, RejectInvalidPaymentDetails, RejectDuplicateRequest, RejectFraudSuspected, RejectOther:
		return true
	}

	return false
}
