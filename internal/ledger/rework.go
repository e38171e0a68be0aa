package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// ReworkInput is the validated command for reworking/regrading part of a
	// lot into a new item. The input lot is fully consumed exactly once: the
	// non-reworked remainder is carved into a sibling lot, which prevents
	// double-counting and repeated rework of the same physical material.
	ReworkInput struct {
		InputLotID       int                 `json:"input_lot_id"`
		OutputItemID     int                 `json:"output_item_id"`
		ToLocationID     int                 `json:"to_location_id"`
		ReworkQuantityKg decimal.Decimal     `json:"rework_quantity_kg"`
		Losses           []BreakdownLossSpec `json:"losses,omitempty"`
		Notes            string              `json:"notes,omitempty"`
		PerformedAt      *time.Time          `json:"performed_at,omitempty"`
	}

	// ReworkResult carries the rework handles. RemainderLot is nil when the
	// rework consumed the whole availability.
	ReworkResult struct {
		ProductionOrderID int             `json:"production_order_id"`
		InputLotID        int             `json:"input_lot_id"`
		OutputLot         LotRef          `json:"output_lot"`
		RemainderLot      *LotRef         `json:"remainder_lot,omitempty"`
		LossTotalKg       decimal.Decimal `json:"loss_total_kg"`
		LotEventIDs       []int           `json:"lot_event_ids"`
	}
)

// Rework consumes an input lot's full availability: rework_quantity_kg goes
// through the rework (minus typed losses) into an RW-coded lot of the new
// item, any remainder above tolerance becomes an RM-coded sibling lot of the
// original item, and the input lot ends disposed.
func Rework(ctx context.Context, q storage.Querier, in ReworkInput, performedBy int) (*ReworkResult, error) {
	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
	}

	// Lock input lot to prevent double-consumption.
	inputLot, err := lockLot(ctx, q, in.InputLotID)
	if err != nil {
		return nil, err
	}

	if inputLot == nil {
		return nil, Errf(CodeNotFound, "Input lot not found")
	}

	if inputLot.State.Terminal() {
		return nil, Errf(CodeIneligibleState, "Lot not eligible for rework (state=%s)", inputLot.State)
	}

	ok, err := itemExists(ctx, q, in.OutputItemID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeNotFound, "Output item not found")
	}

	ok, err = locationExists(ctx, q, in.ToLocationID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeNotFound, "Destination location not found")
	}

	available, err := AvailableKg(ctx, q, in.InputLotID)
	if err != nil {
		return nil, err
	}

	if !KgPositive(in.ReworkQuantityKg) {
		return nil, Errf(CodeBadRequest, "Rework quantity must be > 0")
	}

	if KgExceeds(in.ReworkQuantityKg, available) {
		return nil, Errf(CodeInsufficientAvailable, "Rework quantity cannot exceed available quantity")
	}

	lossTotal := decimal.Zero
	for _, l := range in.Losses {
		if !KgPositive(l.QuantityKg) {
			return nil, Errf(CodeBadRequest, "loss quantity_kg must be > 0")
		}

		lossTotal = lossTotal.Add(l.QuantityKg)
	}

	if KgExceeds(lossTotal, in.ReworkQuantityKg) {
		return nil, Errf(CodeWeightMismatch, "Losses cannot exceed rework quantity")
	}

	// The RW output must carry positive weight; losses that swallow the whole
	// rework quantity would otherwise surface as a check-constraint violation.
	if !KgPositive(in.ReworkQuantityKg.Sub(lossTotal)) {
		return nil, Errf(CodeBadRequest, "Losses must leave a positive rework output quantity")
	}

	remainderQty := ClampZero(available.Sub(in.ReworkQuantityKg))

	profile, err := profileByName(ctx, q, ProfileRework)
	if err != nil {
		return nil, err
	}

	orderID, err := insertProductionOrder(ctx, q, profile.ID, ProcessRework, true, performedAt)
	if err != nil {
		return nil, err
	}

	result := &ReworkResult{ProductionOrderID: orderID, InputLotID: in.InputLotID, LossTotalKg: lossTotal}

	// Consume the original lot exactly once; remainder (if any) becomes a new lot.
	if err := insertProductionInput(ctx, q, orderID, in.InputLotID, available); err != nil {
		return nil, err
	}

	if _, err := insertMovement(ctx, q, Movement{
		LotID:          in.InputLotID,
		FromLocationID: inputLot.CurrentLocationID,
		QuantityKg:     available,
		MovedAt:        performedAt,
		MoveType:       MoveReworkInput,
	}); err != nil {
		return nil, err
	}

	consumedEventID, err := insertEvent(ctx, q, Event{
		LotID:       in.InputLotID,
		EventType:   EventReworkConsumed,
		Reason:      in.Notes,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.LotEventIDs = append(result.LotEventIDs, consumedEventID)

	// Reworked output lot keeps the input's sellability state; the sales gate
	// still enforces released/ready at sale time.
	outputCode, err := NextLotCode(ctx, q, PrefixRework, performedAt)
	if err != nil {
		return nil, err
	}

	toLocationID := in.ToLocationID
	reworkedOutQty := ClampZero(in.ReworkQuantityKg.Sub(lossTotal))

	outputLotID, err := insertLot(ctx, q, &Lot{
		LotCode:           outputCode,
		ItemID:            in.OutputItemID,
		SupplierID:        inputLot.SupplierID,
		CurrentLocationID: &toLocationID,
		State:             inputLot.State,
		ReceivedAt:        inputLot.ReceivedAt,
		AgingStartedAt:    inputLot.AgingStartedAt,
		ReadyAt:           inputLot.ReadyAt,
		ReleasedAt:        inputLot.ReleasedAt,
		ExpiresAt:         inputLot.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	result.OutputLot = LotRef{ID: outputLotID, LotCode: outputCode, QuantityKg: reworkedOutQty}

	if err := insertProductionOutput(ctx, q, orderID, outputLotID, reworkedOutQty); err != nil {
		return nil, err
	}

	if _, err := insertMovement(ctx, q, Movement{
		LotID:        outputLotID,
		ToLocationID: &toLocationID,
		QuantityKg:   reworkedOutQty,
		MovedAt:      performedAt,
		MoveType:     MoveReworkOutput,
	}); err != nil {
		return nil, err
	}

	outputEventID, err := insertEvent(ctx, q, Event{
		LotID:       outputLotID,
		EventType:   EventReworkOutput,
		Reason:      in.Notes,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.LotEventIDs = append(result.LotEventIDs, outputEventID)

	if remainderQty.GreaterThan(Tolerance) {
		remainderCode, err := NextLotCode(ctx, q, PrefixReworkRemainder, performedAt)
		if err != nil {
			return nil, err
		}

		remainderLotID, err := insertLot(ctx, q, &Lot{
			LotCode:           remainderCode,
			ItemID:            inputLot.ItemID,
			SupplierID:        inputLot.SupplierID,
			CurrentLocationID: inputLot.CurrentLocationID,
			State:             inputLot.State,
			ReceivedAt:        inputLot.ReceivedAt,
			AgingStartedAt:    inputLot.AgingStartedAt,
			ReadyAt:           inputLot.ReadyAt,
			ReleasedAt:        inputLot.ReleasedAt,
			ExpiresAt:         inputLot.ExpiresAt,
		})
		if err != nil {
			return nil, err
		}

		result.RemainderLot = &LotRef{ID: remainderLotID, LotCode: remainderCode, QuantityKg: remainderQty}

		if err := insertProductionOutput(ctx, q, orderID, remainderLotID, remainderQty); err != nil {
			return nil, err
		}

		if _, err := insertMovement(ctx, q, Movement{
			LotID:        remainderLotID,
			ToLocationID: inputLot.CurrentLocationID,
			QuantityKg:   remainderQty,
			MovedAt:      performedAt,
			MoveType:     MoveReworkRemainder,
		}); err != nil {
			return nil, err
		}

		remainderEventID, err := insertEvent(ctx, q, Event{
			LotID:       remainderLotID,
			EventType:   EventReworkRemainder,
			Reason:      in.Notes,
			PerformedBy: performedBy,
			PerformedAt: performedAt,
		})
		if err != nil {
			return nil, err
		}

		result.LotEventIDs = append(result.LotEventIDs, remainderEventID)
	}

	// Typed losses share the breakdown_losses table; events stay on the input lot.
	for _, loss := range in.Losses {
		lossType := strings.TrimSpace(loss.LossType)

		if _, err := insertLoss(ctx, q, orderID, lossType, loss.QuantityKg, loss.Notes, performedAt); err != nil {
			return nil, err
		}

		lossEventID, err := insertEvent(ctx, q, Event{
			LotID:       in.InputLotID,
			EventType:   "rework_loss:" + lossType,
			Reason:      loss.Notes,
			PerformedBy: performedBy,
			PerformedAt: performedAt,
		})
		if err != nil {
			return nil, err
		}

		result.LotEventIDs = append(result.LotEventIDs, lossEventID)
	}

	disposedEventID, err := insertEvent(ctx, q, Event{
		LotID:       in.InputLotID,
		EventType:   EventDisposed,
		Reason:      "Rework consumed lot",
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.LotEventIDs = append(result.LotEventIDs, disposedEventID)

	if err := setLotState(ctx, q, in.InputLotID, StateDisposed); err != nil {
		return nil, err
	}

	return result, nil
}
