package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// SaleLineInput is one sell-by-lot line.
	SaleLineInput struct {
		LotID      int             `json:"lot_id"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
	}

	// SaleInput is the validated command for a multi-line sale. The JSON
	// shape doubles as the offline "sale" action payload.
	SaleInput struct {
		CustomerID int             `json:"customer_id"`
		SoldAt     *time.Time      `json:"sold_at,omitempty"`
		Lines      []SaleLineInput `json:"lines"`
		Notes      string          `json:"notes,omitempty"`
	}

	// SaleResult carries the handles created by a sale.
	SaleResult struct {
		SaleID      int   `json:"sale_id"`
		SaleLineIDs []int `json:"sale_line_ids"`
		MovementIDs []int `json:"movement_ids"`
		LotEventIDs []int `json:"lot_event_ids"`
	}
)

// sellabilityGate rejects a lot that may not be sold at the given time.
func sellabilityGate(lot *Lot, now time.Time) error {
	if lot.State == StateQuarantined {
		return Errf(CodeQuarantined, "Lot %s: Lot is quarantined", lot.LotCode)
	}

	if lot.State != StateReleased {
		return Errf(CodeNotReleased, "Lot %s: Lot is not released", lot.LotCode)
	}

	if lot.ReadyAt == nil {
		return Errf(CodeNotReady, "Lot %s: Lot has no ready_at", lot.LotCode)
	}

	if lot.ReadyAt.After(now) {
		return Errf(CodeNotReady, "Lot %s: Lot is not ready yet", lot.LotCode)
	}

	return nil
}

// Sell executes a multi-line sell-by-lot under hard eligibility and
// availability gates. Quantity truth is inventory_movements; reservations
// reduce the sellable quantity. Lots whose on-hand drops to tolerance or
// below are transitioned to sold — the per-line sold events emitted earlier
// in the transaction satisfy the audit trigger.
func Sell(ctx context.Context, q storage.Querier, in SaleInput, performedBy int) (*SaleResult, error) {
	if len(in.Lines) == 0 {
		return nil, Errf(CodeBadRequest, "lines must not be empty")
	}

	ok, err := customerExists(ctx, q, in.CustomerID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid customer_id")
	}

	soldAt := time.Now().UTC()
	if in.SoldAt != nil {
		soldAt = in.SoldAt.UTC()
	}

	// Collapse repeated lot lines, then lock every referenced lot in
	// ascending id order so concurrent sales cannot deadlock.
	byLot := make(map[int]decimal.Decimal)
	for _, line := range in.Lines {
		if !KgPositive(line.QuantityKg) {
			return nil, Errf(CodeBadRequest, "line quantity_kg must be > 0")
		}

		byLot[line.LotID] = byLot[line.LotID].Add(line.QuantityKg)
	}

	lotIDs := make([]int, 0, len(byLot))
	for id := range byLot {
		lotIDs = append(lotIDs, id)
	}

	sort.Ints(lotIDs)

	lots := make(map[int]*Lot, len(lotIDs))

	for _, lotID := range lotIDs {
		lot, err := lockLot(ctx, q, lotID)
		if err != nil {
			return nil, err
		}

		if lot == nil {
			return nil, Errf(CodeInvalidReference, "One or more lot_id invalid")
		}

		lots[lotID] = lot
	}

	for _, lotID := range lotIDs {
		lot := lots[lotID]

		if err := sellabilityGate(lot, soldAt); err != nil {
			return nil, err
		}

		sellable, err := AvailableForSaleKg(ctx, q, lot, soldAt)
		if err != nil {
			return nil, err
		}

		if KgExceeds(byLot[lotID], sellable) {
			return nil, Errf(CodeInsufficientAvailable,
				"Lot %s: insufficient available (reservations included). requested=%s available=%s",
				lot.LotCode, Kg3(byLot[lotID]), Kg3(sellable))
		}
	}

	var saleID int

	err = q.QueryRowContext(ctx, `
		INSERT INTO sales (customer_id, sold_at) VALUES ($1, $2) RETURNING id`,
		in.CustomerID, soldAt).Scan(&saleID)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	result := &SaleResult{SaleID: saleID}

	for _, line := range in.Lines {
		var lineID int

		err := q.QueryRowContext(ctx, `
			INSERT INTO sale_lines (sale_id, lot_id, quantity_kg)
			VALUES ($1, $2, $3)
			RETURNING id`,
			saleID, line.LotID, line.QuantityKg).Scan(&lineID)
		if err != nil {
			return nil, fmt.Errorf("insert sale line for lot %d: %w", line.LotID, err)
		}

		result.SaleLineIDs = append(result.SaleLineIDs, lineID)

		eventID, err := insertEvent(ctx, q, Event{
			LotID:       line.LotID,
			EventType:   EventSold,
			Reason:      in.Notes,
			PerformedBy: performedBy,
			PerformedAt: soldAt,
		})
		if err != nil {
			return nil, err
		}

		result.LotEventIDs = append(result.LotEventIDs, eventID)

		// from_location_id must be set so availability decreases.
		movementID, err := insertMovement(ctx, q, Movement{
			LotID:          line.LotID,
			FromLocationID: lots[line.LotID].CurrentLocationID,
			QuantityKg:     line.QuantityKg,
			MovedAt:        soldAt,
			MoveType:       MoveSale,
		})
		if err != nil {
			return nil, err
		}

		result.MovementIDs = append(result.MovementIDs, movementID)
	}

	// Fully depleted lots transition to sold.
	for _, lotID := range lotIDs {
		onHand, err := OnHandKg(ctx, q, lotID)
		if err != nil {
			return nil, err
		}

		if KgDepleted(onHand) {
			if err := setLotState(ctx, q, lotID, StateSold); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}
