package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// MixInputSpec declares one input lot and quantity of a mix.
	MixInputSpec struct {
		LotID      int             `json:"lot_id"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
	}

	// MixInput is the validated command for combining multiple released lots
	// into one output lot (sausage/burger style production).
	MixInput struct {
		ProcessProfileID int            `json:"process_profile_id"`
		Inputs           []MixInputSpec `json:"inputs"`
		OutputItemID     int            `json:"output_item_id"`
		OutputLocationID int            `json:"output_location_id"`
		Notes            string         `json:"notes,omitempty"`
		PerformedAt      *time.Time     `json:"performed_at,omitempty"`
	}

	// MixResult carries the handles created by a mix.
	MixResult struct {
		ProductionOrderID int    `json:"production_order_id"`
		OutputLotID       int    `json:"output_lot_id"`
		OutputLotCode     string `json:"output_lot_code"`
		InputMovementIDs  []int  `json:"input_movement_ids"`
		OutputMovementID  int    `json:"output_movement_id"`
		LotEventIDs       []int  `json:"lot_event_ids"`
	}
)

// Mix combines multiple sale-safe input lots into one released output lot.
// The profile must permit lot mixing; every input must be released, not
// quarantined and past ready_at at performed_at. Mixing is lossless: the
// output quantity is the sum of the inputs.
func Mix(ctx context.Context, q storage.Querier, in MixInput, performedBy int) (*MixResult, error) {
	if len(in.Inputs) < 2 {
		return nil, Errf(CodeBadRequest, "mix requires at least two inputs")
	}

	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
	}

	profile, err := profileByID(ctx, q, in.ProcessProfileID)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		return nil, Errf(CodeInvalidReference, "Invalid process_profile_id")
	}

	if !profile.AllowsLotMixing {
		return nil, Errf(CodeBadRequest, "This process profile does not allow lot mixing")
	}

	ok, err := itemExists(ctx, q, in.OutputItemID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid output_item_id")
	}

	ok, err = locationExists(ctx, q, in.OutputLocationID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid output_location_id")
	}

	// Collapse repeated lot lines, then lock inputs in ascending id order so
	// concurrent mixes and sales cannot deadlock.
	byLot := make(map[int]decimal.Decimal)
	for _, mi := range in.Inputs {
		if !KgPositive(mi.QuantityKg) {
			return nil, Errf(CodeBadRequest, "input quantity_kg must be > 0")
		}

		byLot[mi.LotID] = byLot[mi.LotID].Add(mi.QuantityKg)
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
			return nil, Errf(CodeInvalidReference, "One or more input lot_id invalid")
		}

		lots[lotID] = lot
	}

	for _, lotID := range lotIDs {
		lot := lots[lotID]
		qty := byLot[lotID]

		if lot.State == StateQuarantined {
			return nil, Errf(CodeQuarantined, "Input lot %s is quarantined", lot.LotCode)
		}

		// Mixing feeds finished goods; enforce sale-safe inputs.
		if lot.State != StateReleased {
			return nil, Errf(CodeNotReleased, "Input lot %s must be released", lot.LotCode)
		}

		if lot.ReadyAt != nil && performedAt.Before(*lot.ReadyAt) {
			return nil, Errf(CodeNotReady, "Input lot %s is not ready yet", lot.LotCode)
		}

		available, err := AvailableKg(ctx, q, lotID)
		if err != nil {
			return nil, err
		}

		if KgExceeds(qty, available) {
			return nil, Errf(CodeInsufficientAvailable,
				"Input lot %s: insufficient available. requested=%s available=%s",
				lot.LotCode, Kg3(qty), Kg3(available))
		}
	}

	orderID, err := insertProductionOrder(ctx, q, in.ProcessProfileID, ProcessMix, false, performedAt)
	if err != nil {
		return nil, err
	}

	result := &MixResult{ProductionOrderID: orderID}

	for _, lotID := range lotIDs {
		qty := byLot[lotID]

		if err := insertProductionInput(ctx, q, orderID, lotID, qty); err != nil {
			return nil, err
		}

		eventID, err := insertEvent(ctx, q, Event{
			LotID:       lotID,
			EventType:   EventMixInput,
			Reason:      in.Notes,
			PerformedBy: performedBy,
			PerformedAt: performedAt,
		})
		if err != nil {
			return nil, err
		}

		result.LotEventIDs = append(result.LotEventIDs, eventID)

		movementID, err := insertMovement(ctx, q, Movement{
			LotID:          lotID,
			FromLocationID: lots[lotID].CurrentLocationID,
			QuantityKg:     qty,
			MovedAt:        performedAt,
			MoveType:       MoveMixInput,
		})
		if err != nil {
			return nil, err
		}

		result.InputMovementIDs = append(result.InputMovementIDs, movementID)
	}

	outputCode, err := NextLotCode(ctx, q, PrefixMix, performedAt)
	if err != nil {
		return nil, err
	}

	outputLocationID := in.OutputLocationID

	outputLotID, err := insertLot(ctx, q, &Lot{
		LotCode:           outputCode,
		ItemID:            in.OutputItemID,
		CurrentLocationID: &outputLocationID,
		State:             StateReleased,
		ReceivedAt:        performedAt,
		ReadyAt:           &performedAt,
		ReleasedAt:        &performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.OutputLotID = outputLotID
	result.OutputLotCode = outputCode

	totalOut := decimal.Zero
	for _, qty := range byLot {
		totalOut = totalOut.Add(qty)
	}

	if err := insertProductionOutput(ctx, q, orderID, outputLotID, totalOut); err != nil {
		return nil, err
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       outputLotID,
		EventType:   EventMixOutput,
		Reason:      in.Notes,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	result.LotEventIDs = append(result.LotEventIDs, eventID)

	outputMovementID, err := insertMovement(ctx, q, Movement{
		LotID:        outputLotID,
		ToLocationID: &outputLocationID,
		QuantityKg:   totalOut,
		MovedAt:      performedAt,
		MoveType:     MoveMixOutput,
	})
	if err != nil {
		return nil, err
	}

	result.OutputMovementID = outputMovementID

	return result, nil
}
