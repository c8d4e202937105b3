package domain

import "errors"

var (
	// ErrInsufficientStock is expected under load; the caller informs the user.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrReservationClosed means the reservation already reached a terminal
	// state. Release and expire paths treat it as a no-op; attach/confirm
	// surface it to the caller.
	ErrReservationClosed = errors.New("reservation closed")

	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks a request rejected before touching any state.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOrphanPayment marks a successful payment with no live reservation
	// behind it. Non-retryable; recorded for manual reconciliation.
	ErrOrphanPayment = errors.New("orphan payment")

	// ErrInvariantViolation means a stock counter check failed where the
	// atomicity guarantee says it cannot. Fatal: the variant is frozen and
	// the condition is never clamped away.
	ErrInvariantViolation = errors.New("stock invariant violation")
)
