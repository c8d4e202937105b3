package application

import (
	"context"
	"time"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

// ReservationStore is the durable store behind the reservation manager.
// Every mutating method is a single atomic unit: the reservation state
// change, the matching stock-counter adjustment and the outbox event either
// all commit or none do. The compare-and-set on the reservation state inside
// ConfirmWithSale and CloseAndCredit is the only mutual exclusion between
// confirm, release and expire racing on the same reservation.
type ReservationStore interface {
	// CreateReserved debits reserved stock for the variant and persists the
	// PENDING reservation in one atomic unit. Returns ErrInsufficientStock
	// without any partial state when the variant cannot cover the quantity.
	CreateReserved(ctx context.Context, r domain.Reservation, eventType string, payload []byte, traceparent string) error

	Get(ctx context.Context, id string) (domain.Reservation, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (domain.Reservation, error)

	// AttachPaymentRef sets the payment reference while the reservation is
	// still PENDING. ErrReservationClosed otherwise.
	AttachPaymentRef(ctx context.Context, id, paymentRef string) error

	// ConfirmWithSale performs PENDING -> CONFIRMED, converts the reserved
	// quantity into a permanent stock reduction and persists the sale. The
	// returned sale carries the unit price snapshotted from the variant.
	// ErrReservationClosed when the compare-and-set loses.
	ConfirmWithSale(ctx context.Context, sale domain.Sale, eventType string, payload []byte, traceparent string) (domain.Sale, error)

	// CloseAndCredit performs PENDING -> RELEASED or EXPIRED and credits the
	// reserved quantity back to the variant. ErrReservationClosed when the
	// compare-and-set loses.
	CloseAndCredit(ctx context.Context, id string, to domain.ReservationState, reason, eventType string, payload []byte, traceparent string) error

	SaleByReservation(ctx context.Context, reservationID string) (domain.Sale, error)

	// ListExpired returns PENDING reservations with expires_at before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)

	Variant(ctx context.Context, variantID string) (domain.Variant, error)

	// RecordOrphanPayment persists a payment that completed with no live
	// reservation behind it, for manual reconciliation.
	RecordOrphanPayment(ctx context.Context, paymentRef, reason, eventType string, payload []byte, traceparent string) error
}
