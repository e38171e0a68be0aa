package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

// The availability oracle. Quantity truth is inventory_movements; reservations
// reduce what can be promised. All functions must be queried in the same
// transaction as any write that depends on them, after the lot's row lock has
// been taken.

// ReservedKg returns the total reserved quantity for a lot.
func ReservedKg(ctx context.Context, q storage.Querier, lotID int) (decimal.Decimal, error) {
	var reserved decimal.Decimal

	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_kg), 0)
		FROM reservations
		WHERE lot_id = $1`, lotID).Scan(&reserved)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserved kg for lot %d: %w", lotID, err)
	}

	return reserved, nil
}

// OnHandKg returns the net physical quantity for a lot, clamped at zero:
// inbound movements minus outbound movements minus typed loss movements.
func OnHandKg(ctx context.Context, q storage.Querier, lotID int) (decimal.Decimal, error) {
	var onHand decimal.Decimal

	err := q.QueryRowContext(ctx, `
		SELECT GREATEST(COALESCE(SUM(
			CASE WHEN move_type IN ('receiving', 'breakdown_output', 'mix_output',
			                        'rework_output', 'rework_remainder',
			                        'qa_pass_output', 'qa_fail_output', 'adjustment_in')
			     THEN quantity_kg
			     WHEN move_type IN ('sale', 'breakdown_input', 'mix_input',
			                        'rework_input', 'qa_split_input', 'adjustment_out')
			     THEN -quantity_kg
			     WHEN move_type LIKE 'breakdown_loss:%'
			     THEN -quantity_kg
			     ELSE 0
			END), 0), 0)
		FROM inventory_movements
		WHERE lot_id = $1`, lotID).Scan(&onHand)
	if err != nil {
		return decimal.Zero, fmt.Errorf("on-hand kg for lot %d: %w", lotID, err)
	}

	return onHand, nil
}

// AvailableKg returns on-hand minus reservations, never negative.
func AvailableKg(ctx context.Context, q storage.Querier, lotID int) (decimal.Decimal, error) {
	onHand, err := OnHandKg(ctx, q, lotID)
	if err != nil {
		return decimal.Zero, err
	}

	reserved, err := ReservedKg(ctx, q, lotID)
	if err != nil {
		return decimal.Zero, err
	}

	return ClampZero(onHand.Sub(reserved)), nil
}

// AvailableForSaleKg returns the sale-eligible quantity for a lot: its
// available quantity when the lot is released with ready_at set and past,
// zero otherwise.
func AvailableForSaleKg(ctx context.Context, q storage.Querier, lot *Lot, now time.Time) (decimal.Decimal, error) {
	if lot == nil {
		return decimal.Zero, nil
	}

	if lot.State != StateReleased {
		return decimal.Zero, nil
	}

	if lot.ReadyAt == nil || lot.ReadyAt.After(now) {
		return decimal.Zero, nil
	}

	return AvailableKg(ctx, q, lot.ID)
}

// ReceivedKg returns the historical receiving total for a lot. Breakdown uses
// it as a sanity bound on the declared input weight.
func ReceivedKg(ctx context.Context, q storage.Querier, lotID int) (decimal.Decimal, error) {
	var received decimal.Decimal

	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_kg), 0)
		FROM inventory_movements
		WHERE lot_id = $1 AND move_type = 'receiving'`, lotID).Scan(&received)
	if err != nil {
		return decimal.Zero, fmt.Errorf("received kg for lot %d: %w", lotID, err)
	}

	return received, nil
}
