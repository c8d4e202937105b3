package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationState string

const (
	StatePending   ReservationState = "PENDING"
	StateConfirmed ReservationState = "CONFIRMED"
	StateReleased  ReservationState = "RELEASED"
	StateExpired   ReservationState = "EXPIRED"
)

// Terminal reports whether the state accepts no further transitions.
func (s ReservationState) Terminal() bool {
	return s == StateConfirmed || s == StateReleased || s == StateExpired
}

// CanTransitionTo validates a state change. The only legal moves are
// PENDING -> CONFIRMED | RELEASED | EXPIRED.
func (s ReservationState) CanTransitionTo(to ReservationState) bool {
	return s == StatePending && to.Terminal()
}

// Reservation is a time-bounded hold of variant stock owned by one
// checkout session. Its quantity is already debited from the variant's
// available stock for as long as the state is PENDING.
type Reservation struct {
	ID         string
	VariantID  string
	Quantity   int
	SessionID  string
	PaymentRef *string
	State      ReservationState
	Notes      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	UpdatedAt  time.Time
}

func NewReservation(variantID string, quantity int, sessionID string, ttl time.Duration) Reservation {
	now := time.Now().UTC()
	return Reservation{
		ID:        uuid.NewString(),
		VariantID: variantID,
		Quantity:  quantity,
		SessionID: sessionID,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
}

// Expired reports whether the TTL has elapsed. Only meaningful while PENDING;
// a terminal reservation keeps whatever state it closed with.
func (r Reservation) Expired(now time.Time) bool {
	return r.State == StatePending && now.After(r.ExpiresAt)
}
