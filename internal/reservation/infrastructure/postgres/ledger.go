package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

// Ledger holds the three atomic counter operations on a variant row. Each
// one is a single conditional UPDATE: the row lock serializes concurrent
// callers on the same variant while different variants stay independent.
// Callers are trusted for state correctness (the repository only invokes
// these inside an already-validated transition), but the numeric guards are
// re-checked here and a miss is an invariant violation, never a clamp.
type Ledger struct{}

// TryReserve debits available stock. ErrInsufficientStock when the variant
// cannot cover the quantity at evaluation time.
func (Ledger) TryReserve(ctx context.Context, tx pgx.Tx, variantID string, quantity int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE variants
		SET reserved_stock = reserved_stock + $2, updated_at = now()
		WHERE id = $1
		  AND NOT frozen
		  AND total_stock - reserved_stock >= $2`,
		variantID, quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var frozen bool
	err = tx.QueryRow(ctx, `SELECT frozen FROM variants WHERE id = $1`, variantID).Scan(&frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("variant %s: %w", variantID, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if frozen {
		return fmt.Errorf("variant %s is frozen: %w", variantID, domain.ErrInvariantViolation)
	}
	return fmt.Errorf("variant %s: %w", variantID, domain.ErrInsufficientStock)
}

// Release credits reserved stock back after a release or expiry.
func (Ledger) Release(ctx context.Context, tx pgx.Tx, variantID string, quantity int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE variants
		SET reserved_stock = reserved_stock - $2, updated_at = now()
		WHERE id = $1
		  AND reserved_stock >= $2`,
		variantID, quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("release %d on variant %s would make reserved stock negative: %w", quantity, variantID, domain.ErrInvariantViolation)
	}
	return nil
}

// CommitSale converts a reservation into a permanent stock reduction: the
// quantity leaves reserved_stock and total_stock in the same step.
func (Ledger) CommitSale(ctx context.Context, tx pgx.Tx, variantID string, quantity int) error {
	ct, err := tx.Exec(ctx, `
		UPDATE variants
		SET total_stock = total_stock - $2, reserved_stock = reserved_stock - $2, updated_at = now()
		WHERE id = $1
		  AND reserved_stock >= $2
		  AND total_stock >= $2`,
		variantID, quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("commit sale of %d on variant %s exceeds reserved stock: %w", quantity, variantID, domain.ErrInvariantViolation)
	}
	return nil
}
