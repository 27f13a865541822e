// Package verrors defines the stable error taxonomy shared across the
// core: every mutating operation on the ledger, escrow engine, job and
// order state machines, and the property pipeline returns an error that
// carries one of these kinds, so the HTTP boundary can map it to a
// status code without inspecting message text.
package verrors

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of a core error, per spec §7.
type Kind int

const (
	// KindInternal covers anything not otherwise classified, and any
	// unexpected failure from a collaborator.
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindLimitExceeded
	KindProviderUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindProviderUnavailable:
		return "provider_unavailable"
	default:
		return "internal"
	}
}

// Retriable reports whether the client should be told to retry, per the
// table in spec §7.
func (k Kind) Retriable() bool {
	return k == KindProviderUnavailable || k == KindInternal
}

// Error is a kinded error. Internal detail (the wrapped cause) is meant
// for logs; Message is what a client may see.
type Error struct {
	kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New builds a kinded error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, Message: message}
}

// Wrap attaches a kind and client-facing message to an underlying error,
// keeping the original around for logs via errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err
// does not carry one (e.g. it originated outside the core, such as a
// raw driver error that leaked through).
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.kind
	}
	return KindInternal
}

// Sentinel leaf errors, in the style of channeldb's error.go: cheap to
// compare, wrapped with context via Wrap at the call site when a
// client-facing message is needed.
var (
	ErrInsufficientFunds  = errors.New("insufficient available balance")
	ErrDuplicateReference = errors.New("reference already used")
	ErrWalletNotActive    = errors.New("wallet is not active")
	ErrWalletFrozen       = errors.New("wallet is frozen")
	ErrLimitExceeded      = errors.New("wallet limit exceeded")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrHoldNotFound       = errors.New("hold not found")
	ErrHoldNotActive      = errors.New("hold is not active")

	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidJobStatus   = errors.New("job is not in a status that allows this transition")
	ErrWorkerNotAvailable = errors.New("worker is not available")
	ErrNotJobParty        = errors.New("caller is not a party to this job")
	ErrPartialAlreadyUsed = errors.New("partial release already used for this job")

	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidOrderStatus  = errors.New("order is not in a status that allows this transition")
	ErrServiceUnavailable  = errors.New("service is not active or out of stock")
	ErrSubscriptionExpired = errors.New("vendor subscription is not valid")
	ErrIdentityNotVerified = errors.New("buyer identity is not verified for cross-state delivery")

	ErrPropertyNotFound     = errors.New("property not found")
	ErrPropertyDuplicate    = errors.New("a property with this listing already exists")
	ErrInvalidPropertyState = errors.New("property is not in a status that allows this transition")
	ErrNotAssignedVerifier  = errors.New("caller is not the assigned verifier for this property")

	ErrProviderUnavailable = errors.New("payment provider unavailable")

	ErrChatNotFound               = errors.New("chat not found")
	ErrNotChatParticipant         = errors.New("caller is not a participant of this chat")
	ErrProposalNotFound           = errors.New("contract proposal not found")
	ErrInvalidProposalStatus      = errors.New("contract proposal is not pending")
	ErrCannotRespondToOwnProposal = errors.New("caller cannot respond to their own proposal")
	ErrNotProposalParty           = errors.New("caller is not a party to this proposal")
)
