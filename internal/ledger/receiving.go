package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// ReceivingInput is the validated command for receiving product from a
	// supplier into a location. The JSON shape doubles as the offline
	// "receiving" action payload.
	ReceivingInput struct {
		ItemID       int             `json:"item_id"`
		SupplierID   int             `json:"supplier_id"`
		QuantityKg   decimal.Decimal `json:"quantity_kg"`
		ToLocationID int             `json:"to_location_id"`
		Notes        string          `json:"notes,omitempty"`
		ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	}

	// ReceivingResult carries the handles created by a receiving command.
	ReceivingResult struct {
		LotID      int    `json:"lot_id"`
		LotCode    string `json:"lot_code"`
		MovementID int    `json:"movement_id"`
		LotEventID int    `json:"lot_event_id"`
	}
)

// Receive creates a new lot in state received, its inbound movement and its
// received audit event, all on the given transaction.
func Receive(ctx context.Context, q storage.Querier, in ReceivingInput, performedBy int) (*ReceivingResult, error) {
	if !KgPositive(in.QuantityKg) {
		return nil, Errf(CodeBadRequest, "quantity_kg must be > 0")
	}

	ok, err := itemExists(ctx, q, in.ItemID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid item_id")
	}

	ok, err = supplierExists(ctx, q, in.SupplierID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid supplier_id")
	}

	ok, err = locationExists(ctx, q, in.ToLocationID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid to_location_id")
	}

	receivedAt := time.Now().UTC()
	if in.ReceivedAt != nil {
		receivedAt = in.ReceivedAt.UTC()
	}

	lotCode, err := NextLotCode(ctx, q, PrefixReceiving, receivedAt)
	if err != nil {
		return nil, err
	}

	supplierID := in.SupplierID
	locationID := in.ToLocationID

	lotID, err := insertLot(ctx, q, &Lot{
		LotCode:           lotCode,
		ItemID:            in.ItemID,
		SupplierID:        &supplierID,
		CurrentLocationID: &locationID,
		State:             StateReceived,
		ReceivedAt:        receivedAt,
	})
	if err != nil {
		return nil, err
	}

	movementID, err := insertMovement(ctx, q, Movement{
		LotID:        lotID,
		ToLocationID: &locationID,
		QuantityKg:   in.QuantityKg,
		MovedAt:      receivedAt,
		MoveType:     MoveReceiving,
	})
	if err != nil {
		return nil, err
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       lotID,
		EventType:   EventReceived,
		Reason:      in.Notes,
		PerformedBy: performedBy,
		PerformedAt: receivedAt,
	})
	if err != nil {
		return nil, err
	}

	return &ReceivingResult{
		LotID:      lotID,
		LotCode:    lotCode,
		MovementID: movementID,
		LotEventID: eventID,
	}, nil
}
