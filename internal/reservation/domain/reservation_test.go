package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReservationState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from ReservationState
		to   ReservationState
		want bool
	}{
		{name: "pending to confirmed", from: StatePending, to: StateConfirmed, want: true},
		{name: "pending to released", from: StatePending, to: StateReleased, want: true},
		{name: "pending to expired", from: StatePending, to: StateExpired, want: true},
		{name: "pending to pending", from: StatePending, to: StatePending, want: false},
		{name: "confirmed is terminal", from: StateConfirmed, to: StateReleased, want: false},
		{name: "released is terminal", from: StateReleased, to: StateExpired, want: false},
		{name: "expired is terminal", from: StateExpired, to: StateConfirmed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestReservationState_Terminal(t *testing.T) {
	require.False(t, StatePending.Terminal())
	require.True(t, StateConfirmed.Terminal())
	require.True(t, StateReleased.Terminal())
	require.True(t, StateExpired.Terminal())
}

func TestNewReservation(t *testing.T) {
	r := NewReservation("variant-1", 3, "session-1", time.Minute)

	require.NotEmpty(t, r.ID)
	require.Equal(t, "variant-1", r.VariantID)
	require.Equal(t, 3, r.Quantity)
	require.Equal(t, "session-1", r.SessionID)
	require.Equal(t, StatePending, r.State)
	require.Nil(t, r.PaymentRef)
	require.Equal(t, r.CreatedAt.Add(time.Minute), r.ExpiresAt)
}

func TestReservation_Expired(t *testing.T) {
	r := NewReservation("variant-1", 1, "session-1", time.Minute)

	require.False(t, r.Expired(r.CreatedAt))
	require.True(t, r.Expired(r.ExpiresAt.Add(time.Second)))

	r.State = StateConfirmed
	require.False(t, r.Expired(r.ExpiresAt.Add(time.Second)))
}

func TestVariant_Available(t *testing.T) {
	v := Variant{TotalStock: 5, ReservedStock: 3}
	require.Equal(t, 2, v.Available())
}
