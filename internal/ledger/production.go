package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

// Production graph row helpers shared by breakdown, mixing, rework and QA split.

func insertProductionOrder(ctx context.Context, q storage.Querier, profileID int, processType string, isRework bool, at time.Time) (int, error) {
	var id int

	err := q.QueryRowContext(ctx, `
		INSERT INTO production_orders (process_profile_id, process_type, is_rework, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id`,
		profileID, processType, isRework, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s production order: %w", processType, err)
	}

	return id, nil
}

func insertProductionInput(ctx context.Context, q storage.Querier, orderID, lotID int, qty decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO production_inputs (production_order_id, lot_id, quantity_kg)
		VALUES ($1, $2, $3)`,
		orderID, lotID, qty)
	if err != nil {
		return fmt.Errorf("insert production input (order %d, lot %d): %w", orderID, lotID, err)
	}

	return nil
}

func insertProductionOutput(ctx context.Context, q storage.Querier, orderID, lotID int, qty decimal.Decimal) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO production_outputs (production_order_id, output_lot_id, quantity_kg)
		VALUES ($1, $2, $3)`,
		orderID, lotID, qty)
	if err != nil {
		return fmt.Errorf("insert production output (order %d, lot %d): %w", orderID, lotID, err)
	}

	return nil
}

func insertLoss(ctx context.Context, q storage.Querier, orderID int, lossType string, qty decimal.Decimal, notes string, at time.Time) (int, error) {
	var (
		id       int
		notesVal any
	)

	if notes != "" {
		notesVal = notes
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO breakdown_losses (production_order_id, loss_type, quantity_kg, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		orderID, lossType, qty, notesVal, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s loss (order %d): %w", lossType, orderID, err)
	}

	return id, nil
}
