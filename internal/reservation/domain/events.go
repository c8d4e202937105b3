package domain

import "time"

type ReservationCreated struct {
	ReservationID string    `json:"reservation_id"`
	VariantID     string    `json:"variant_id"`
	Quantity      int       `json:"quantity"`
	SessionID     string    `json:"session_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ReservationConfirmed struct {
	ReservationID string `json:"reservation_id"`
	SaleID        string `json:"sale_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
}

type ReservationReleased struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}

type ReservationExpired struct {
	ReservationID string `json:"reservation_id"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
}

type PaymentOrphaned struct {
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason"`
}
