package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// BreakdownOutputSpec declares one output cut of a breakdown.
	BreakdownOutputSpec struct {
		ItemID       int             `json:"item_id"`
		QuantityKg   decimal.Decimal `json:"quantity_kg"`
		ToLocationID int             `json:"to_location_id"`
	}

	// BreakdownLossSpec declares one typed loss of a breakdown or rework.
	BreakdownLossSpec struct {
		LossType   string          `json:"loss_type"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
		Notes      string          `json:"notes,omitempty"`
	}

	// BreakdownInput is the validated command for a single-input,
	// full-consumption disassembly. The JSON shape doubles as the offline
	// "breakdown" action payload.
	BreakdownInput struct {
		InputLotID      int                   `json:"input_lot_id"`
		InputQuantityKg decimal.Decimal       `json:"input_quantity_kg"`
		Outputs         []BreakdownOutputSpec `json:"outputs"`
		Losses          []BreakdownLossSpec   `json:"losses,omitempty"`
		Notes           string                `json:"notes,omitempty"`
		PerformedAt     *time.Time            `json:"performed_at,omitempty"`
	}

	// BreakdownResult carries every handle a breakdown creates.
	BreakdownResult struct {
		ProductionOrderID int      `json:"production_order_id"`
		InputMovementID   int      `json:"input_movement_id"`
		Outputs           []LotRef `json:"outputs"`
		OutputMovementIDs []int    `json:"output_movement_ids"`
		LossIDs           []int    `json:"loss_ids"`
		LossMovementIDs   []int    `json:"loss_movement_ids"`
		LotEventIDs       []int    `json:"lot_event_ids"`
	}
)

// Breakdown disassembles one input lot into multiple output lots plus typed
// losses under strict mass balance. The input lot must be fully consumed:
// input_quantity_kg must equal its current availability within tolerance,
// and outputs plus losses must equal input_quantity_kg within tolerance.
// The input lot ends disposed.
func Breakdown(ctx context.Context, q storage.Querier, in BreakdownInput, performedBy int) (*BreakdownResult, error) {
	reason := in.Notes
	if reason == "" {
		reason = "Breakdown"
	}

	if len(in.Outputs) == 0 {
		return nil, Errf(CodeBadRequest, "outputs must not be empty")
	}

	// Lock input lot to prevent concurrent consumption (sale/reservation/breakdown).
	inputLot, err := lockLot(ctx, q, in.InputLotID)
	if err != nil {
		return nil, err
	}

	if inputLot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid input_lot_id")
	}

	if inputLot.State == StateQuarantined {
		return nil, Errf(CodeQuarantined, "Cannot breakdown a quarantined lot")
	}

	if inputLot.State == StateDisposed || inputLot.State == StateSold {
		return nil, Errf(CodeIneligibleState, "Lot is not eligible for breakdown (state=%s)", inputLot.State)
	}

	// Sanity bound against the receiving history. Lots born from production
	// orders have no receiving movement; their bound is availability alone.
	receivedQty, err := ReceivedKg(ctx, q, in.InputLotID)
	if err != nil {
		return nil, err
	}

	if KgPositive(receivedQty) && KgExceeds(in.InputQuantityKg, receivedQty) {
		return nil, Errf(CodeWeightMismatch,
			"Input weight cannot exceed received weight. received=%s input=%s",
			Kg3(receivedQty), Kg3(in.InputQuantityKg))
	}

	if err := validateBreakdownRefs(ctx, q, in); err != nil {
		return nil, err
	}

	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
	}

	sumOutputs := decimal.Zero
	for _, o := range in.Outputs {
		if !KgPositive(o.QuantityKg) {
			return nil, Errf(CodeBadRequest, "output quantity_kg must be > 0")
		}

		sumOutputs = sumOutputs.Add(o.QuantityKg)
	}

	sumLosses := decimal.Zero
	for _, l := range in.Losses {
		if !KgPositive(l.QuantityKg) {
			return nil, Errf(CodeBadRequest, "loss quantity_kg must be > 0")
		}

		sumLosses = sumLosses.Add(l.QuantityKg)
	}

	totalOut := sumOutputs.Add(sumLosses)

	if !KgEqual(totalOut, in.InputQuantityKg) {
		return nil, Errf(CodeWeightMismatch,
			"Weight mismatch. input=%s outputs+losses=%s (no unassigned weight allowed)",
			Kg3(in.InputQuantityKg), Kg3(totalOut))
	}

	available, err := AvailableKg(ctx, q, in.InputLotID)
	if err != nil {
		return nil, err
	}

	if KgExceeds(in.InputQuantityKg, available) {
		return nil, Errf(CodeInsufficientAvailable,
			"Insufficient available quantity on input lot. requested=%s available=%s",
			Kg3(in.InputQuantityKg), Kg3(available))
	}

	// Breakdown is single-input and MUST fully consume the lot's remaining
	// availability. This prevents breaking down the same physical lot twice.
	if !KgEqual(in.InputQuantityKg, available) {
		return nil, Errf(CodeFullConsumptionRequired,
			"Breakdown must consume full available quantity. available=%s input=%s",
			Kg3(available), Kg3(in.InputQuantityKg))
	}

	profile, err := profileByName(ctx, q, ProfileBreakdown)
	if err != nil {
		return nil, err
	}

	orderID, err := insertProductionOrder(ctx, q, profile.ID, ProcessBreakdown, false, performedAt)
	if err != nil {
		return nil, err
	}

	if err := insertProductionInput(ctx, q, orderID, in.InputLotID, in.InputQuantityKg); err != nil {
		return nil, err
	}

	result := &BreakdownResult{ProductionOrderID: orderID}

	startEventID, err := insertEvent(ctx, q, Event{
		LotID:       in.InputLotID,
		EventType:   EventBreakdown,
		Reason:      reason,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.LotEventIDs = append(result.LotEventIDs, startEventID)

	// Consume material from the lot's current location.
	inputMovementID, err := insertMovement(ctx, q, Movement{
		LotID:          in.InputLotID,
		FromLocationID: inputLot.CurrentLocationID,
		QuantityKg:     in.InputQuantityKg,
		MovedAt:        performedAt,
		MoveType:       MoveBreakdownInput,
	})
	if err != nil {
		return nil, err
	}

	result.InputMovementID = inputMovementID

	for _, out := range in.Outputs {
		ref, movementID, eventID, err := createBreakdownOutput(ctx, q, inputLot, orderID, out, reason, performedBy, performedAt)
		if err != nil {
			return nil, err
		}

		result.Outputs = append(result.Outputs, *ref)
		result.OutputMovementIDs = append(result.OutputMovementIDs, movementID)
		result.LotEventIDs = append(result.LotEventIDs, eventID)
	}

	for _, loss := range in.Losses {
		lossType := strings.TrimSpace(loss.LossType)

		lossID, err := insertLoss(ctx, q, orderID, lossType, loss.QuantityKg, loss.Notes, performedAt)
		if err != nil {
			return nil, err
		}

		result.LossIDs = append(result.LossIDs, lossID)

		eventID, err := insertEvent(ctx, q, Event{
			LotID:       in.InputLotID,
			EventType:   MoveBreakdownLossPrefix + lossType,
			Reason:      reason,
			PerformedBy: performedBy,
			PerformedAt: performedAt,
		})
		if err != nil {
			return nil, err
		}

		result.LotEventIDs = append(result.LotEventIDs, eventID)

		movementID, err := insertMovement(ctx, q, Movement{
			LotID:          in.InputLotID,
			FromLocationID: inputLot.CurrentLocationID,
			QuantityKg:     loss.QuantityKg,
			MovedAt:        performedAt,
			MoveType:       MoveBreakdownLossPrefix + lossType,
		})
		if err != nil {
			return nil, err
		}

		result.LossMovementIDs = append(result.LossMovementIDs, movementID)
	}

	// Mark input lot as disposed after full consumption. Event first so the
	// audit trigger sees it when the state update fires.
	disposedEventID, err := insertEvent(ctx, q, Event{
		LotID:       in.InputLotID,
		EventType:   EventDisposed,
		Reason:      reason,
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

func validateBreakdownRefs(ctx context.Context, q storage.Querier, in BreakdownInput) error {
	for _, out := range in.Outputs {
		ok, err := itemExists(ctx, q, out.ItemID)
		if err != nil {
			return err
		}

		if !ok {
			return Errf(CodeInvalidReference, "One or more output item_id invalid")
		}

		ok, err = locationExists(ctx, q, out.ToLocationID)
		if err != nil {
			return err
		}

		if !ok {
			return Errf(CodeInvalidReference, "One or more to_location_id invalid")
		}
	}

	for _, loss := range in.Losses {
		code := strings.TrimSpace(loss.LossType)

		var active bool

		err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM loss_types WHERE code = $1 AND active)`,
			code).Scan(&active)
		if err != nil {
			return fmt.Errorf("loss type check %q: %w", code, err)
		}

		if !active {
			return Errf(CodeInvalidReference, "One or more loss_type is invalid or inactive")
		}
	}

	return nil
}

// createBreakdownOutput allocates a BD-coded lot inheriting the input's
// supplier, received_at and lifecycle timestamps, then records its production
// output row, creation event and inbound movement.
func createBreakdownOutput(
	ctx context.Context,
	q storage.Querier,
	inputLot *Lot,
	orderID int,
	out BreakdownOutputSpec,
	reason string,
	performedBy int,
	performedAt time.Time,
) (*LotRef, int, int, error) {
	code, err := NextLotCode(ctx, q, PrefixBreakdown, performedAt)
	if err != nil {
		return nil, 0, 0, err
	}

	locationID := out.ToLocationID

	lotID, err := insertLot(ctx, q, &Lot{
		LotCode:           code,
		ItemID:            out.ItemID,
		SupplierID:        inputLot.SupplierID,
		CurrentLocationID: &locationID,
		State:             inputLot.State,
		ReceivedAt:        inputLot.ReceivedAt,
		ReadyAt:           inputLot.ReadyAt,
		ReleasedAt:        inputLot.ReleasedAt,
		ExpiresAt:         inputLot.ExpiresAt,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	if err := insertProductionOutput(ctx, q, orderID, lotID, out.QuantityKg); err != nil {
		return nil, 0, 0, err
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       lotID,
		EventType:   EventCreatedFromBreakdown,
		Reason:      reason,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	movementID, err := insertMovement(ctx, q, Movement{
		LotID:        lotID,
		ToLocationID: &locationID,
		QuantityKg:   out.QuantityKg,
		MovedAt:      performedAt,
		MoveType:     MoveBreakdownOutput,
	})
	if err != nil {
		return nil, 0, 0, err
	}

	return &LotRef{ID: lotID, LotCode: code, QuantityKg: out.QuantityKg}, movementID, eventID, nil
}
