package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

// RecordedEvent is what the transactional store would have written to the
// outbox. Kept in memory so tests can assert on emitted events.
type RecordedEvent struct {
	AggregateID string
	Type        string
	Payload     []byte
}

// Store implements application.ReservationStore in memory. Used for local
// development and unit tests; the single mutex stands in for the
// per-transaction atomicity of the PostgreSQL store, so every method is an
// all-or-nothing unit exactly like its durable counterpart.
type Store struct {
	mu           sync.RWMutex
	variants     map[string]*domain.Variant
	reservations map[string]*domain.Reservation
	sales        map[string]domain.Sale // keyed by reservation id
	byPaymentRef map[string]string      // payment ref -> reservation id
	orphans      map[string]string      // payment ref -> reason
	events       []RecordedEvent
}

func NewStore() *Store {
	return &Store{
		variants:     make(map[string]*domain.Variant),
		reservations: make(map[string]*domain.Reservation),
		sales:        make(map[string]domain.Sale),
		byPaymentRef: make(map[string]string),
		orphans:      make(map[string]string),
	}
}

// SeedVariant installs or replaces a variant with its counters.
func (s *Store) SeedVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	s.variants[v.ID] = &cp
}

func (s *Store) CreateReserved(ctx context.Context, r domain.Reservation, eventType string, payload []byte, traceparent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[r.VariantID]
	if !ok {
		return fmt.Errorf("variant %s: %w", r.VariantID, domain.ErrNotFound)
	}
	if v.Frozen {
		return fmt.Errorf("variant %s is frozen: %w", r.VariantID, domain.ErrInvariantViolation)
	}
	if v.Available() < r.Quantity {
		return fmt.Errorf("variant %s: %w", r.VariantID, domain.ErrInsufficientStock)
	}

	v.ReservedStock += r.Quantity
	v.UpdatedAt = time.Now().UTC()
	cp := r
	s.reservations[r.ID] = &cp
	s.events = append(s.events, RecordedEvent{AggregateID: r.ID, Type: eventType, Payload: payload})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	return *r, nil
}

func (s *Store) GetByPaymentRef(ctx context.Context, paymentRef string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPaymentRef[paymentRef]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("payment ref %s: %w", paymentRef, domain.ErrNotFound)
	}
	return *s.reservations[id], nil
}

func (s *Store) AttachPaymentRef(ctx context.Context, id, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if r.State != domain.StatePending {
		return fmt.Errorf("reservation %s in state %s: %w", id, r.State, domain.ErrReservationClosed)
	}
	if owner, taken := s.byPaymentRef[paymentRef]; taken && owner != id {
		return fmt.Errorf("payment ref %s already attached to reservation %s", paymentRef, owner)
	}

	ref := paymentRef
	r.PaymentRef = &ref
	r.UpdatedAt = time.Now().UTC()
	s.byPaymentRef[paymentRef] = id
	return nil
}

func (s *Store) ConfirmWithSale(ctx context.Context, sale domain.Sale, eventType string, payload []byte, traceparent string) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[sale.ReservationID]
	if !ok {
		return domain.Sale{}, fmt.Errorf("reservation %s: %w", sale.ReservationID, domain.ErrNotFound)
	}
	if r.State != domain.StatePending {
		return domain.Sale{}, fmt.Errorf("reservation %s in state %s: %w", r.ID, r.State, domain.ErrReservationClosed)
	}

	v, ok := s.variants[sale.VariantID]
	if !ok {
		return domain.Sale{}, fmt.Errorf("variant %s: %w", sale.VariantID, domain.ErrNotFound)
	}
	if v.ReservedStock < sale.Quantity || v.TotalStock < sale.Quantity {
		v.Frozen = true
		return domain.Sale{}, fmt.Errorf("commit sale of %d on variant %s exceeds reserved stock: %w", sale.Quantity, v.ID, domain.ErrInvariantViolation)
	}

	r.State = domain.StateConfirmed
	r.UpdatedAt = time.Now().UTC()
	v.ReservedStock -= sale.Quantity
	v.TotalStock -= sale.Quantity
	v.UpdatedAt = r.UpdatedAt

	sale.UnitPriceCents = v.PriceCents
	sale.CreatedAt = r.UpdatedAt
	s.sales[sale.ReservationID] = sale
	s.events = append(s.events, RecordedEvent{AggregateID: r.ID, Type: eventType, Payload: payload})
	return sale, nil
}

func (s *Store) CloseAndCredit(ctx context.Context, id string, to domain.ReservationState, reason, eventType string, payload []byte, traceparent string) error {
	if to != domain.StateReleased && to != domain.StateExpired {
		return fmt.Errorf("close to state %s is not a credit transition", to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if r.State != domain.StatePending {
		return fmt.Errorf("reservation %s in state %s: %w", id, r.State, domain.ErrReservationClosed)
	}

	v, ok := s.variants[r.VariantID]
	if !ok {
		return fmt.Errorf("variant %s: %w", r.VariantID, domain.ErrNotFound)
	}
	if v.ReservedStock < r.Quantity {
		v.Frozen = true
		return fmt.Errorf("release %d on variant %s would make reserved stock negative: %w", r.Quantity, v.ID, domain.ErrInvariantViolation)
	}

	r.State = to
	r.UpdatedAt = time.Now().UTC()
	v.ReservedStock -= r.Quantity
	v.UpdatedAt = r.UpdatedAt
	s.events = append(s.events, RecordedEvent{AggregateID: id, Type: eventType, Payload: payload})
	return nil
}

func (s *Store) SaleByReservation(ctx context.Context, reservationID string) (domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[reservationID]
	if !ok {
		return domain.Sale{}, fmt.Errorf("sale for reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	return sale, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.State == domain.StatePending && r.ExpiresAt.Before(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Variant(ctx context.Context, variantID string) (domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[variantID]
	if !ok {
		return domain.Variant{}, fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}
	return *v, nil
}

func (s *Store) RecordOrphanPayment(ctx context.Context, paymentRef, reason, eventType string, payload []byte, traceparent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.orphans[paymentRef]; seen {
		return nil
	}
	s.orphans[paymentRef] = reason
	s.events = append(s.events, RecordedEvent{AggregateID: paymentRef, Type: eventType, Payload: payload})
	return nil
}

// Events returns a copy of everything recorded for the outbox so far.
func (s *Store) Events() []RecordedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RecordedEvent(nil), s.events...)
}

// Orphans returns the recorded orphan payments by reference.
func (s *Store) Orphans() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.orphans))
	for k, v := range s.orphans {
		out[k] = v
	}
	return out
}
