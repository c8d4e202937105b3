package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationConfirmed = "ReservationConfirmed"
	EventReservationReleased  = "ReservationReleased"
	EventReservationExpired   = "ReservationExpired"
	EventPaymentOrphaned      = "PaymentOrphaned"
)

// Manager owns every reservation state transition. All stock accounting
// happens inside the store's atomic units; the manager decides which
// transition applies and keeps the release/expire paths idempotent.
type Manager struct {
	log        *slog.Logger
	store      ReservationStore
	defaultTTL time.Duration
}

func NewManager(log *slog.Logger, store ReservationStore, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Manager{log: log, store: store, defaultTTL: defaultTTL}
}

type CreateReservationInput struct {
	VariantID string
	Quantity  int
	SessionID string
	TTL       time.Duration
	Notes     string
}

// CreateReservation reserves stock and persists the PENDING record in one
// atomic unit. On ErrInsufficientStock nothing is persisted. There is no
// cancellation after the commit: the reservation exists even if the caller's
// request dies afterwards, and the TTL is the sole reclaim mechanism.
func (m *Manager) CreateReservation(ctx context.Context, in CreateReservationInput, traceparent string) (domain.Reservation, error) {
	if in.VariantID == "" {
		return domain.Reservation{}, fmt.Errorf("variant id is required: %w", domain.ErrInvalidInput)
	}
	if in.Quantity <= 0 {
		return domain.Reservation{}, fmt.Errorf("quantity must be positive: %w", domain.ErrInvalidInput)
	}
	if in.SessionID == "" {
		return domain.Reservation{}, fmt.Errorf("session id is required: %w", domain.ErrInvalidInput)
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	r := domain.NewReservation(in.VariantID, in.Quantity, in.SessionID, ttl)
	r.Notes = in.Notes

	payload, err := json.Marshal(domain.ReservationCreated{
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		SessionID:     r.SessionID,
		ExpiresAt:     r.ExpiresAt,
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	if err := m.store.CreateReserved(ctx, r, EventReservationCreated, payload, traceparent); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			m.log.Info("reservation rejected", "variant_id", in.VariantID, "quantity", in.Quantity)
		}
		return domain.Reservation{}, err
	}

	m.log.Info("reservation created", "reservation_id", r.ID, "variant_id", r.VariantID, "quantity", r.Quantity, "expires_at", r.ExpiresAt)
	return r, nil
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return m.store.Get(ctx, id)
}

// AttachPaymentRef binds a payment intent to the reservation. Allowed only
// while PENDING; anything later is ErrReservationClosed for the caller.
func (m *Manager) AttachPaymentRef(ctx context.Context, id, paymentRef string) error {
	if paymentRef == "" {
		return fmt.Errorf("payment reference is required: %w", domain.ErrInvalidInput)
	}
	return m.store.AttachPaymentRef(ctx, id, paymentRef)
}

// Confirm performs PENDING -> CONFIRMED and creates the sale. Idempotent:
// confirming an already-CONFIRMED reservation returns the existing sale,
// because payment webhooks arrive duplicated. A reservation that closed as
// RELEASED or EXPIRED cannot be confirmed anymore.
func (m *Manager) Confirm(ctx context.Context, id, traceparent string) (domain.Sale, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	switch r.State {
	case domain.StateConfirmed:
		return m.store.SaleByReservation(ctx, r.ID)
	case domain.StateReleased, domain.StateExpired:
		return domain.Sale{}, fmt.Errorf("confirm %s in state %s: %w", r.ID, r.State, domain.ErrReservationClosed)
	}

	sale := domain.Sale{
		ID:            uuid.NewString(),
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
	}
	payload, err := json.Marshal(domain.ReservationConfirmed{
		ReservationID: r.ID,
		SaleID:        sale.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	created, err := m.store.ConfirmWithSale(ctx, sale, EventReservationConfirmed, payload, traceparent)
	if err != nil {
		if errors.Is(err, domain.ErrReservationClosed) {
			// Lost the compare-and-set. If the winner was another confirm
			// of the same payment, hand back its sale.
			cur, gerr := m.store.Get(ctx, r.ID)
			if gerr == nil && cur.State == domain.StateConfirmed {
				return m.store.SaleByReservation(ctx, r.ID)
			}
		}
		return domain.Sale{}, err
	}

	m.log.Info("reservation confirmed", "reservation_id", r.ID, "sale_id", created.ID)
	return created, nil
}

// Release performs PENDING -> RELEASED and credits the stock back.
// Idempotent: releasing an already RELEASED or EXPIRED reservation is a
// no-op success, since cancellation races with expiry are expected.
// Releasing a CONFIRMED reservation is ErrReservationClosed.
func (m *Manager) Release(ctx context.Context, id, reason, traceparent string) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	switch r.State {
	case domain.StateReleased, domain.StateExpired:
		return nil
	case domain.StateConfirmed:
		return fmt.Errorf("release %s in state %s: %w", r.ID, r.State, domain.ErrReservationClosed)
	}

	payload, err := json.Marshal(domain.ReservationReleased{
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
		Reason:        reason,
	})
	if err != nil {
		return err
	}

	err = m.store.CloseAndCredit(ctx, r.ID, domain.StateReleased, reason, EventReservationReleased, payload, traceparent)
	if err != nil {
		if errors.Is(err, domain.ErrReservationClosed) {
			cur, gerr := m.store.Get(ctx, r.ID)
			if gerr == nil && (cur.State == domain.StateReleased || cur.State == domain.StateExpired) {
				return nil
			}
			return fmt.Errorf("release %s: %w", r.ID, domain.ErrReservationClosed)
		}
		return err
	}

	m.log.Info("reservation released", "reservation_id", r.ID, "reason", reason)
	return nil
}

// Expire performs PENDING -> EXPIRED for the reaper. Same idempotence rules
// as Release, except that losing the race against a confirmation is success
// too: the stock already belongs to a sale and must not be credited back.
func (m *Manager) Expire(ctx context.Context, id, traceparent string) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.State.Terminal() {
		return nil
	}

	payload, err := json.Marshal(domain.ReservationExpired{
		ReservationID: r.ID,
		VariantID:     r.VariantID,
		Quantity:      r.Quantity,
	})
	if err != nil {
		return err
	}

	err = m.store.CloseAndCredit(ctx, r.ID, domain.StateExpired, "ttl elapsed", EventReservationExpired, payload, traceparent)
	if err != nil {
		if errors.Is(err, domain.ErrReservationClosed) {
			return nil
		}
		return err
	}

	m.log.Info("reservation expired", "reservation_id", r.ID, "variant_id", r.VariantID)
	return nil
}
