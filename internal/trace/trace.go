// Package trace implements genealogy traversal over production orders:
// backward and forward closures via recursive CTEs, recall reports, and bulk
// forward quarantine.
package trace

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/lotline-io/lotline/internal/storage"
)

// backwardSQL walks input edges of production orders from an output lot back
// to its sources, transitively.
const backwardSQL = `
WITH RECURSIVE backward(lot_id, source_lot_id) AS (
    SELECT
        po.output_lot_id AS lot_id,
        pi.lot_id        AS source_lot_id
    FROM production_outputs po
    JOIN production_inputs pi
      ON pi.production_order_id = po.production_order_id
    WHERE po.output_lot_id = $1

    UNION ALL

    SELECT
        b.lot_id,
        pi.lot_id
    FROM backward b
    JOIN production_outputs po
      ON po.output_lot_id = b.source_lot_id
    JOIN production_inputs pi
      ON pi.production_order_id = po.production_order_id
)
SELECT DISTINCT source_lot_id FROM backward ORDER BY source_lot_id`

// forwardSQL walks output edges from an input lot to everything derived from
// it, transitively.
const forwardSQL = `
WITH RECURSIVE forward(lot_id, derived_lot_id) AS (
    SELECT
        pi.lot_id        AS lot_id,
        po.output_lot_id AS derived_lot_id
    FROM production_inputs pi
    JOIN production_outputs po
      ON po.production_order_id = pi.production_order_id
    WHERE pi.lot_id = $1

    UNION ALL

    SELECT
        f.derived_lot_id,
        po.output_lot_id
    FROM forward f
    JOIN production_inputs pi
      ON pi.lot_id = f.derived_lot_id
    JOIN production_outputs po
      ON po.production_order_id = pi.production_order_id
)
SELECT DISTINCT derived_lot_id FROM forward ORDER BY derived_lot_id`

// Customer identifies a customer that bought from a traced lot.
type Customer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// BackwardLotIDs returns every lot the given lot was (transitively) made from.
func BackwardLotIDs(ctx context.Context, q storage.Querier, lotID int) ([]int, error) {
	ids, err := queryIDs(ctx, q, backwardSQL, lotID)
	if err != nil {
		return nil, fmt.Errorf("backward trace for lot %d: %w", lotID, err)
	}

	return ids, nil
}

// ForwardLotIDs returns every lot (transitively) derived from the given lot.
func ForwardLotIDs(ctx context.Context, q storage.Querier, lotID int) ([]int, error) {
	ids, err := queryIDs(ctx, q, forwardSQL, lotID)
	if err != nil {
		return nil, fmt.Errorf("forward trace for lot %d: %w", lotID, err)
	}

	return ids, nil
}

// AffectedCustomers returns the distinct customers with sale lines against any
// of the given lots.
func AffectedCustomers(ctx context.Context, q storage.Querier, lotIDs []int) ([]Customer, error) {
	if len(lotIDs) == 0 {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.name
		FROM sale_lines sl
		JOIN sales s ON s.id = sl.sale_id
		JOIN customers c ON c.id = s.customer_id
		WHERE sl.lot_id = ANY($1)
		ORDER BY c.id`, pq.Array(lotIDs))
	if err != nil {
		return nil, fmt.Errorf("affected customers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var customers []Customer

	for rows.Next() {
		var c Customer

		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan affected customer: %w", err)
		}

		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate affected customers: %w", err)
	}

	return customers, nil
}

func queryIDs(ctx context.Context, q storage.Querier, query string, lotID int) ([]int, error) {
	rows, err := q.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int

	for rows.Next() {
		var id int

		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}
