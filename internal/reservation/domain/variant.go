package domain

import "time"

// Variant is a purchasable SKU with its own stock counters. The counters
// are only ever changed through the stock ledger operations; available
// stock is derived, never stored.
type Variant struct {
	ID            string
	SKU           string
	PriceCents    int64
	TotalStock    int
	ReservedStock int
	// Frozen is set when a ledger invariant check fails. A frozen variant
	// rejects new reservations until an operator clears it.
	Frozen    bool
	UpdatedAt time.Time
}

func (v Variant) Available() int {
	return v.TotalStock - v.ReservedStock
}
