package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/ledger"
)

type (
	// LotSummary is one row of the lot listing.
	LotSummary struct {
		ID                int        `json:"id"`
		LotCode           string     `json:"lot_code"`
		State             string     `json:"state"`
		ItemID            int        `json:"item_id"`
		ItemName          string     `json:"item_name"`
		ReceivedAt        time.Time  `json:"received_at"`
		AgingStartedAt    *time.Time `json:"aging_started_at,omitempty"`
		ReadyAt           *time.Time `json:"ready_at,omitempty"`
		ReleasedAt        *time.Time `json:"released_at,omitempty"`
		ExpiresAt         *time.Time `json:"expires_at,omitempty"`
		CurrentLocationID *int       `json:"current_location_id,omitempty"`
		Quantities
	}

	// MovementRow is one movement in the lot detail.
	MovementRow struct {
		ID               int             `json:"id"`
		MoveType         string          `json:"move_type"`
		QuantityKg       decimal.Decimal `json:"quantity_kg"`
		MovedAt          time.Time       `json:"moved_at"`
		FromLocationID   *int            `json:"from_location_id,omitempty"`
		FromLocationName *string         `json:"from_location_name,omitempty"`
		ToLocationID     *int            `json:"to_location_id,omitempty"`
		ToLocationName   *string         `json:"to_location_name,omitempty"`
	}

	// EventRow is one audit event in the lot detail.
	EventRow struct {
		ID          int       `json:"id"`
		EventType   string    `json:"event_type"`
		Notes       *string   `json:"notes,omitempty"`
		PerformedBy int       `json:"performed_by"`
		PerformedAt time.Time `json:"performed_at"`
	}

	// ReservationRow is one reservation in the lot detail.
	ReservationRow struct {
		ID           int             `json:"id"`
		CustomerID   int             `json:"customer_id"`
		CustomerName string          `json:"customer_name"`
		QuantityKg   decimal.Decimal `json:"quantity_kg"`
		ReservedAt   time.Time       `json:"reserved_at"`
	}

	// SaleRow is one sale line against the lot.
	SaleRow struct {
		SaleID       int             `json:"sale_id"`
		SoldAt       time.Time       `json:"sold_at"`
		CustomerID   *int            `json:"customer_id,omitempty"`
		CustomerName *string         `json:"customer_name,omitempty"`
		QuantityKg   decimal.Decimal `json:"quantity_kg"`
	}

	// GenealogyLot is one endpoint of a direct genealogy edge.
	GenealogyLot struct {
		LotID      int             `json:"lot_id"`
		LotCode    string          `json:"lot_code"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
	}

	// GenealogyOrder is one production order the lot participated in.
	GenealogyOrder struct {
		ProductionOrderID int            `json:"production_order_id"`
		ProcessType       string         `json:"process_type"`
		IsRework          bool           `json:"is_rework"`
		StartedAt         *time.Time     `json:"started_at,omitempty"`
		Outputs           []GenealogyLot `json:"outputs,omitempty"`
		Inputs            []GenealogyLot `json:"inputs,omitempty"`
	}

	// LotDetail is the full single-lot projection.
	LotDetail struct {
		ID             int              `json:"id"`
		LotCode        string           `json:"lot_code"`
		State          string           `json:"state"`
		ItemID         int              `json:"item_id"`
		ItemName       string           `json:"item_name"`
		SupplierID     *int             `json:"supplier_id,omitempty"`
		SupplierName   *string          `json:"supplier_name,omitempty"`
		LocationID     *int             `json:"location_id,omitempty"`
		LocationName   *string          `json:"location_name,omitempty"`
		ReceivedAt     time.Time        `json:"received_at"`
		AgingStartedAt *time.Time       `json:"aging_started_at,omitempty"`
		ReadyAt        *time.Time       `json:"ready_at,omitempty"`
		ReleasedAt     *time.Time       `json:"released_at,omitempty"`
		ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
		Quantities     Quantities       `json:"quantities"`
		Movements      []MovementRow    `json:"movements"`
		Events         []EventRow       `json:"events"`
		Reservations   []ReservationRow `json:"reservations"`
		Sales          []SaleRow        `json:"sales"`
		AsInput        []GenealogyOrder `json:"as_input"`
		AsOutput       []GenealogyOrder `json:"as_output"`
	}
)

// ListLots returns per-lot quantity summaries, newest lots first. The
// availability arithmetic matches the ledger's movement taxonomy exactly.
func (s *Store) ListLots(ctx context.Context, limit int) ([]LotSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT l.id, l.lot_code, l.state, i.id, i.name,
		       l.received_at, l.aging_started_at, l.ready_at, l.released_at,
		       l.expires_at, l.current_location_id,
		       COALESCE(SUM(CASE WHEN m.move_type = 'receiving' THEN m.quantity_kg ELSE 0 END), 0),
		       GREATEST(COALESCE(SUM(
		           CASE WHEN m.move_type IN ('receiving', 'breakdown_output', 'mix_output',
		                                     'rework_output', 'rework_remainder',
		                                     'qa_pass_output', 'qa_fail_output', 'adjustment_in')
		                THEN m.quantity_kg
		                WHEN m.move_type IN ('sale', 'breakdown_input', 'mix_input',
		                                     'rework_input', 'qa_split_input', 'adjustment_out')
		                THEN -m.quantity_kg
		                WHEN m.move_type LIKE 'breakdown_loss:%'
		                THEN -m.quantity_kg
		                ELSE 0
		           END), 0), 0),
		       COALESCE((SELECT SUM(r.quantity_kg) FROM reservations r WHERE r.lot_id = l.id), 0)
		FROM lots l
		JOIN items i ON i.id = l.item_id
		LEFT JOIN inventory_movements m ON m.lot_id = l.id
		GROUP BY l.id, i.id
		ORDER BY l.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now().UTC()

	var out []LotSummary

	for rows.Next() {
		var (
			ls     LotSummary
			onHand decimal.Decimal
		)

		if err := rows.Scan(&ls.ID, &ls.LotCode, &ls.State, &ls.ItemID, &ls.ItemName,
			&ls.ReceivedAt, &ls.AgingStartedAt, &ls.ReadyAt, &ls.ReleasedAt,
			&ls.ExpiresAt, &ls.CurrentLocationID,
			&ls.ReceivedKg, &onHand, &ls.ReservedKg); err != nil {
			return nil, fmt.Errorf("scan lot summary: %w", err)
		}

		ls.AvailableKg = ledger.ClampZero(onHand.Sub(ls.ReservedKg))
		ls.SellableKg = sellableOf(ls.State, ls.ReadyAt, ls.AvailableKg, now)

		out = append(out, ls)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lot summaries: %w", err)
	}

	return out, nil
}

// LotDetail builds the full projection for one lot.
func (s *Store) LotDetail(ctx context.Context, lotID int) (*LotDetail, error) {
	detail := &LotDetail{}

	err := s.conn.QueryRowContext(ctx, `
		SELECT l.id, l.lot_code, l.state, i.id, i.name,
		       sp.id, sp.name, loc.id, loc.name,
		       l.received_at, l.aging_started_at, l.ready_at, l.released_at, l.expires_at
		FROM lots l
		JOIN items i ON i.id = l.item_id
		LEFT JOIN suppliers sp ON sp.id = l.supplier_id
		LEFT JOIN locations loc ON loc.id = l.current_location_id
		WHERE l.id = $1`, lotID).Scan(
		&detail.ID, &detail.LotCode, &detail.State, &detail.ItemID, &detail.ItemName,
		&detail.SupplierID, &detail.SupplierName, &detail.LocationID, &detail.LocationName,
		&detail.ReceivedAt, &detail.AgingStartedAt, &detail.ReadyAt, &detail.ReleasedAt,
		&detail.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ledger.Errf(ledger.CodeNotFound, "Lot not found")
		}

		return nil, fmt.Errorf("load lot %d: %w", lotID, err)
	}

	if detail.Quantities, err = s.lotQuantities(ctx, lotID, detail.State, detail.ReadyAt); err != nil {
		return nil, err
	}

	if detail.Movements, err = s.lotMovements(ctx, lotID); err != nil {
		return nil, err
	}

	if detail.Events, err = s.lotEvents(ctx, lotID); err != nil {
		return nil, err
	}

	if detail.Reservations, err = s.lotReservations(ctx, lotID); err != nil {
		return nil, err
	}

	if detail.Sales, err = s.lotSales(ctx, lotID); err != nil {
		return nil, err
	}

	if detail.AsInput, err = s.ordersAsInput(ctx, lotID); err != nil {
		return nil, err
	}

	if detail.AsOutput, err = s.ordersAsOutput(ctx, lotID); err != nil {
		return nil, err
	}

	return detail, nil
}

func (s *Store) lotQuantities(ctx context.Context, lotID int, state string, readyAt *time.Time) (Quantities, error) {
	var q Quantities

	received, err := ledger.ReceivedKg(ctx, s.conn, lotID)
	if err != nil {
		return q, err
	}

	onHand, err := ledger.OnHandKg(ctx, s.conn, lotID)
	if err != nil {
		return q, err
	}

	reserved, err := ledger.ReservedKg(ctx, s.conn, lotID)
	if err != nil {
		return q, err
	}

	q.ReceivedKg = received
	q.ReservedKg = reserved
	q.AvailableKg = ledger.ClampZero(onHand.Sub(reserved))
	q.SellableKg = sellableOf(state, readyAt, q.AvailableKg, time.Now().UTC())

	return q, nil
}

func (s *Store) lotMovements(ctx context.Context, lotID int) ([]MovementRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT m.id, m.move_type, m.quantity_kg, m.moved_at,
		       m.from_location_id, fl.name, m.to_location_id, tl.name
		FROM inventory_movements m
		LEFT JOIN locations fl ON fl.id = m.from_location_id
		LEFT JOIN locations tl ON tl.id = m.to_location_id
		WHERE m.lot_id = $1
		ORDER BY m.moved_at DESC, m.id DESC
		LIMIT 500`, lotID)
	if err != nil {
		return nil, fmt.Errorf("load movements for lot %d: %w", lotID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []MovementRow

	for rows.Next() {
		var m MovementRow

		if err := rows.Scan(&m.ID, &m.MoveType, &m.QuantityKg, &m.MovedAt,
			&m.FromLocationID, &m.FromLocationName, &m.ToLocationID, &m.ToLocationName); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}

func (s *Store) lotEvents(ctx context.Context, lotID int) ([]EventRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, event_type, reason, performed_by, performed_at
		FROM lot_events
		WHERE lot_id = $1
		ORDER BY performed_at DESC, id DESC
		LIMIT 500`, lotID)
	if err != nil {
		return nil, fmt.Errorf("load events for lot %d: %w", lotID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRow

	for rows.Next() {
		var e EventRow

		if err := rows.Scan(&e.ID, &e.EventType, &e.Notes, &e.PerformedBy, &e.PerformedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *Store) lotReservations(ctx context.Context, lotID int) ([]ReservationRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id, c.id, c.name, r.quantity_kg, r.reserved_at
		FROM reservations r
		JOIN customers c ON c.id = r.customer_id
		WHERE r.lot_id = $1
		ORDER BY r.reserved_at DESC, r.id DESC
		LIMIT 200`, lotID)
	if err != nil {
		return nil, fmt.Errorf("load reservations for lot %d: %w", lotID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReservationRow

	for rows.Next() {
		var r ReservationRow

		if err := rows.Scan(&r.ID, &r.CustomerID, &r.CustomerName, &r.QuantityKg, &r.ReservedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) lotSales(ctx context.Context, lotID int) ([]SaleRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT sa.id, sa.sold_at, c.id, c.name, sl.quantity_kg
		FROM sale_lines sl
		JOIN sales sa ON sa.id = sl.sale_id
		LEFT JOIN customers c ON c.id = sa.customer_id
		WHERE sl.lot_id = $1
		ORDER BY sa.sold_at DESC, sa.id DESC
		LIMIT 200`, lotID)
	if err != nil {
		return nil, fmt.Errorf("load sales for lot %d: %w", lotID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []SaleRow

	for rows.Next() {
		var row SaleRow

		if err := rows.Scan(&row.SaleID, &row.SoldAt, &row.CustomerID, &row.CustomerName, &row.QuantityKg); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

func (s *Store) ordersAsInput(ctx context.Context, lotID int) ([]GenealogyOrder, error) {
	orders, err := s.genealogyOrders(ctx, `
		SELECT po.id, po.process_type, po.is_rework, po.started_at
		FROM production_inputs pi
		JOIN production_orders po ON po.id = pi.production_order_id
		WHERE pi.lot_id = $1
		ORDER BY po.started_at DESC NULLS LAST, po.id DESC
		LIMIT 50`, lotID)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		outputs, err := s.genealogyEdges(ctx, `
			SELECT l.id, l.lot_code, po.quantity_kg
			FROM production_outputs po
			JOIN lots l ON l.id = po.output_lot_id
			WHERE po.production_order_id = $1`, orders[i].ProductionOrderID)
		if err != nil {
			return nil, err
		}

		orders[i].Outputs = outputs
	}

	return orders, nil
}

func (s *Store) ordersAsOutput(ctx context.Context, lotID int) ([]GenealogyOrder, error) {
	orders, err := s.genealogyOrders(ctx, `
		SELECT po.id, po.process_type, po.is_rework, po.started_at
		FROM production_outputs pout
		JOIN production_orders po ON po.id = pout.production_order_id
		WHERE pout.output_lot_id = $1
		ORDER BY po.started_at DESC NULLS LAST, po.id DESC
		LIMIT 50`, lotID)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		inputs, err := s.genealogyEdges(ctx, `
			SELECT l.id, l.lot_code, pi.quantity_kg
			FROM production_inputs pi
			JOIN lots l ON l.id = pi.lot_id
			WHERE pi.production_order_id = $1`, orders[i].ProductionOrderID)
		if err != nil {
			return nil, err
		}

		orders[i].Inputs = inputs
	}

	return orders, nil
}

func (s *Store) genealogyOrders(ctx context.Context, query string, lotID int) ([]GenealogyOrder, error) {
	rows, err := s.conn.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("load genealogy orders for lot %d: %w", lotID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []GenealogyOrder

	for rows.Next() {
		var g GenealogyOrder

		if err := rows.Scan(&g.ProductionOrderID, &g.ProcessType, &g.IsRework, &g.StartedAt); err != nil {
			return nil, fmt.Errorf("scan genealogy order: %w", err)
		}

		out = append(out, g)
	}

	return out, rows.Err()
}

func (s *Store) genealogyEdges(ctx context.Context, query string, orderID int) ([]GenealogyLot, error) {
	rows, err := s.conn.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("load genealogy edges for order %d: %w", orderID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []GenealogyLot

	for rows.Next() {
		var g GenealogyLot

		if err := rows.Scan(&g.LotID, &g.LotCode, &g.QuantityKg); err != nil {
			return nil, fmt.Errorf("scan genealogy edge: %w", err)
		}

		out = append(out, g)
	}

	return out, rows.Err()
}

// sellableOf applies the sale-eligibility gate to an available quantity.
func sellableOf(state string, readyAt *time.Time, available decimal.Decimal, now time.Time) decimal.Decimal {
	if state != string(ledger.StateReleased) {
		return decimal.Zero
	}

	if readyAt == nil || readyAt.After(now) {
		return decimal.Zero
	}

	return available
}
