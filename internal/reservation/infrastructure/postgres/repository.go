package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
)

// Repository implements application.ReservationStore on PostgreSQL. Every
// mutating method runs a single transaction covering the reservation row,
// the variant counters and the outbox event.
type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	ledger Ledger
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const reservationCols = `id, variant_id, quantity, session_id, payment_ref, state, notes, close_reason, created_at, expires_at, updated_at`

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var r domain.Reservation
	var closeReason *string
	err := row.Scan(&r.ID, &r.VariantID, &r.Quantity, &r.SessionID, &r.PaymentRef, &r.State, &r.Notes, &closeReason, &r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	return r, nil
}

func (r *Repository) CreateReserved(ctx context.Context, res domain.Reservation, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := r.ledger.TryReserve(ctx, tx, res.VariantID, res.Quantity); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservations (id, variant_id, quantity, session_id, state, notes, created_at, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.ID, res.VariantID, res.Quantity, res.SessionID, res.State, res.Notes, res.CreatedAt, res.ExpiresAt, res.UpdatedAt)
	if err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, res.ID, eventType, payload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (r *Repository) GetByPaymentRef(ctx context.Context, paymentRef string) (domain.Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE payment_ref = $1`, paymentRef)
	return scanReservation(row)
}

func (r *Repository) AttachPaymentRef(ctx context.Context, id, paymentRef string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE reservations
		SET payment_ref = $2, updated_at = now()
		WHERE id = $1 AND state = $3`,
		id, paymentRef, domain.StatePending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

func (r *Repository) ConfirmWithSale(ctx context.Context, sale domain.Sale, eventType string, payload []byte, traceparent string) (domain.Sale, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Sale{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Compare-and-set on state is the sole arbiter between a confirmation
	// and a concurrent release or expiry.
	ct, err := tx.Exec(ctx, `
		UPDATE reservations
		SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3`,
		sale.ReservationID, domain.StateConfirmed, domain.StatePending)
	if err != nil {
		return domain.Sale{}, err
	}
	if ct.RowsAffected() == 0 {
		return domain.Sale{}, r.classifyMiss(ctx, sale.ReservationID)
	}

	if err := r.ledger.CommitSale(ctx, tx, sale.VariantID, sale.Quantity); err != nil {
		return domain.Sale{}, r.guardInvariant(ctx, sale.VariantID, err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO sales (id, reservation_id, variant_id, quantity, unit_price_cents, created_at)
		SELECT $1, $2, $3, $4, v.price_cents, now()
		FROM variants v WHERE v.id = $3
		RETURNING unit_price_cents, created_at`,
		sale.ID, sale.ReservationID, sale.VariantID, sale.Quantity).
		Scan(&sale.UnitPriceCents, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}

	if err := insertOutbox(ctx, tx, sale.ReservationID, eventType, payload, traceparent); err != nil {
		return domain.Sale{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (r *Repository) CloseAndCredit(ctx context.Context, id string, to domain.ReservationState, reason, eventType string, payload []byte, traceparent string) error {
	if !domain.StatePending.CanTransitionTo(to) || to == domain.StateConfirmed {
		return fmt.Errorf("close to state %s is not a credit transition", to)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var variantID string
	var quantity int
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET state = $2, close_reason = $3, updated_at = now()
		WHERE id = $1 AND state = $4
		RETURNING variant_id, quantity`,
		id, to, reason, domain.StatePending).
		Scan(&variantID, &quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classifyMiss(ctx, id)
		}
		return err
	}

	if err := r.ledger.Release(ctx, tx, variantID, quantity); err != nil {
		return r.guardInvariant(ctx, variantID, err)
	}

	if err := insertOutbox(ctx, tx, id, eventType, payload, traceparent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) SaleByReservation(ctx context.Context, reservationID string) (domain.Sale, error) {
	var s domain.Sale
	err := r.pool.QueryRow(ctx, `
		SELECT id, reservation_id, variant_id, quantity, unit_price_cents, created_at
		FROM sales WHERE reservation_id = $1`, reservationID).
		Scan(&s.ID, &s.ReservationID, &s.VariantID, &s.Quantity, &s.UnitPriceCents, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sale{}, domain.ErrNotFound
		}
		return domain.Sale{}, err
	}
	return s, nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationCols+`
		FROM reservations
		WHERE state = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`,
		domain.StatePending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) Variant(ctx context.Context, variantID string) (domain.Variant, error) {
	var v domain.Variant
	err := r.pool.QueryRow(ctx, `
		SELECT id, sku, price_cents, total_stock, reserved_stock, frozen, updated_at
		FROM variants WHERE id = $1`, variantID).
		Scan(&v.ID, &v.SKU, &v.PriceCents, &v.TotalStock, &v.ReservedStock, &v.Frozen, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Variant{}, domain.ErrNotFound
		}
		return domain.Variant{}, err
	}
	return v, nil
}

func (r *Repository) RecordOrphanPayment(ctx context.Context, paymentRef, reason, eventType string, payload []byte, traceparent string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `
		INSERT INTO orphan_payments (payment_ref, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (payment_ref) DO NOTHING`,
		paymentRef, reason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		// First sighting only; duplicate webhooks must not re-alert.
		if err := insertOutbox(ctx, tx, paymentRef, eventType, payload, traceparent); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// classifyMiss resolves a zero-row compare-and-set into NotFound vs. closed.
func (r *Repository) classifyMiss(ctx context.Context, id string) error {
	var state domain.ReservationState
	err := r.pool.QueryRow(ctx, `SELECT state FROM reservations WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("reservation %s in state %s: %w", id, state, domain.ErrReservationClosed)
}

// guardInvariant freezes the variant so no further writes land on it until
// an operator investigates. The failed transaction itself never commits.
func (r *Repository) guardInvariant(ctx context.Context, variantID string, err error) error {
	if errors.Is(err, domain.ErrInvariantViolation) {
		r.log.Error("stock invariant violated, freezing variant", "variant_id", variantID, "err", err)
		if _, ferr := r.pool.Exec(ctx, `UPDATE variants SET frozen = true, updated_at = now() WHERE id = $1`, variantID); ferr != nil {
			r.log.Error("failed to freeze variant", "variant_id", variantID, "err", ferr)
		}
	}
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		"reservation", aggregateID, eventType, payload, map[string]string{}, traceparent)
	return err
}
