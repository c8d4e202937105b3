package domain

import "time"

// Sale is the terminal effect of confirming a reservation: the quantity is
// permanently removed from the variant's total stock. Immutable once created.
type Sale struct {
	ID             string
	ReservationID  string
	VariantID      string
	Quantity       int
	UnitPriceCents int64
	CreatedAt      time.Time
}
