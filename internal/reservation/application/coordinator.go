package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

type PaymentOutcome string

const (
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
	OutcomeTimedOut  PaymentOutcome = "timed_out"
)

// Coordinator consumes external payment outcomes and drives the matching
// reservation through the manager. It never touches stock counters directly.
type Coordinator struct {
	log     *slog.Logger
	store   ReservationStore
	manager *Manager
}

func NewCoordinator(log *slog.Logger, store ReservationStore, manager *Manager) *Coordinator {
	return &Coordinator{log: log, store: store, manager: manager}
}

// Handle resolves the payment reference to a reservation and finalizes it.
// Success against an unknown or already-closed reference is the one
// non-retryable case: money moved with no stock held, so the payment is
// recorded as orphaned and escalated instead of being dropped.
func (c *Coordinator) Handle(ctx context.Context, paymentRef string, outcome PaymentOutcome, traceparent string) error {
	if paymentRef == "" {
		return fmt.Errorf("payment reference is required: %w", domain.ErrInvalidInput)
	}
	switch outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomeTimedOut:
	default:
		return fmt.Errorf("unknown payment outcome %q: %w", outcome, domain.ErrInvalidInput)
	}

	r, err := c.store.GetByPaymentRef(ctx, paymentRef)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if outcome != OutcomeSucceeded {
			// A failed payment for a reference we never saw needs no action.
			c.log.Info("ignoring failed payment for unknown reference", "payment_ref", paymentRef)
			return nil
		}
		return c.orphan(ctx, paymentRef, "no reservation carries this payment reference", traceparent)
	}

	switch outcome {
	case OutcomeSucceeded:
		_, err := c.manager.Confirm(ctx, r.ID, traceparent)
		if errors.Is(err, domain.ErrReservationClosed) {
			// Reservation expired or was cancelled before the confirmation
			// arrived, but the money moved anyway.
			return c.orphan(ctx, paymentRef, fmt.Sprintf("reservation %s closed before confirmation", r.ID), traceparent)
		}
		return err
	case OutcomeFailed, OutcomeTimedOut:
		return c.manager.Release(ctx, r.ID, "payment "+string(outcome), traceparent)
	default:
		return fmt.Errorf("unknown payment outcome %q: %w", outcome, domain.ErrInvalidInput)
	}
}

func (c *Coordinator) orphan(ctx context.Context, paymentRef, reason, traceparent string) error {
	c.log.Error("orphan payment, manual reconciliation required", "payment_ref", paymentRef, "reason", reason)

	payload, err := json.Marshal(domain.PaymentOrphaned{PaymentRef: paymentRef, Reason: reason})
	if err != nil {
		return err
	}
	if err := c.store.RecordOrphanPayment(ctx, paymentRef, reason, EventPaymentOrphaned, payload, traceparent); err != nil {
		return err
	}
	return fmt.Errorf("payment %s: %w", paymentRef, domain.ErrOrphanPayment)
}
