package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// ReservationInput soft-allocates part of a lot to a customer.
	ReservationInput struct {
		LotID      int             `json:"lot_id"`
		CustomerID int             `json:"customer_id"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
		ReservedAt *time.Time      `json:"reserved_at,omitempty"`
	}

	// ReservationResult carries the created reservation id.
	ReservationResult struct {
		ReservationID int `json:"reservation_id"`
	}

	// ReservationCancelInput releases a reservation. Notes are mandatory so
	// the audit event explains why the allocation was dropped.
	ReservationCancelInput struct {
		ReservationID int        `json:"reservation_id"`
		Notes         string     `json:"notes"`
		CanceledAt    *time.Time `json:"canceled_at,omitempty"`
	}

	// ReservationCancelResult identifies the lot the quantity returned to.
	ReservationCancelResult struct {
		LotID      int    `json:"lot_id"`
		LotCode    string `json:"lot_code"`
		LotEventID int    `json:"lot_event_id"`
	}
)

// Reserve soft-allocates quantity against a lot. The sum of reservations may
// never exceed the lot's on-hand quantity; the lot is locked so concurrent
// reservations and sales cannot oversubscribe it.
func Reserve(ctx context.Context, q storage.Querier, in ReservationInput) (*ReservationResult, error) {
	lot, err := lockLot(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	if lot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid lot_id")
	}

	ok, err := customerExists(ctx, q, in.CustomerID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid customer_id")
	}

	if !KgPositive(in.QuantityKg) {
		return nil, Errf(CodeBadRequest, "quantity_kg must be > 0")
	}

	// Reserving a lot that isn't ready yet is allowed; quarantined, disposed
	// and sold lots are not reservable.
	if lot.State.Terminal() {
		return nil, Errf(CodeIneligibleState, "Lot is not eligible for reservation (state=%s)", lot.State)
	}

	onHand, err := OnHandKg(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	alreadyReserved, err := ReservedKg(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	remaining := onHand.Sub(alreadyReserved)

	if KgExceeds(in.QuantityKg, remaining) {
		return nil, Errf(CodeInsufficientAvailable,
			"Insufficient reservable quantity. on_hand=%s reserved=%s remaining=%s requested=%s",
			Kg3(onHand), Kg3(alreadyReserved), Kg3(remaining), Kg3(in.QuantityKg))
	}

	reservedAt := time.Now().UTC()
	if in.ReservedAt != nil {
		reservedAt = in.ReservedAt.UTC()
	}

	var reservationID int

	err = q.QueryRowContext(ctx, `
		INSERT INTO reservations (lot_id, customer_id, quantity_kg, reserved_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		in.LotID, in.CustomerID, in.QuantityKg, reservedAt,
	).Scan(&reservationID)
	if err != nil {
		return nil, fmt.Errorf("insert reservation for lot %d: %w", in.LotID, err)
	}

	return &ReservationResult{ReservationID: reservationID}, nil
}

// CancelReservation deletes the soft allocation and leaves a
// reservation_canceled event on the lot as the audit trail.
func CancelReservation(ctx context.Context, q storage.Querier, in ReservationCancelInput, performedBy int) (*ReservationCancelResult, error) {
	notes := strings.TrimSpace(in.Notes)
	if len(notes) < 2 {
		return nil, Errf(CodeBadRequest, "Notes are required to cancel a reservation")
	}

	var lotID int

	err := q.QueryRowContext(ctx,
		`SELECT lot_id FROM reservations WHERE id = $1`, in.ReservationID).Scan(&lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Errf(CodeNotFound, "Reservation not found")
	}

	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", in.ReservationID, err)
	}

	// Lock lot to avoid races with sale/reservation changes.
	lot, err := lockLot(ctx, q, lotID)
	if err != nil {
		return nil, err
	}

	if lot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid lot_id")
	}

	canceledAt := time.Now().UTC()
	if in.CanceledAt != nil {
		canceledAt = in.CanceledAt.UTC()
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM reservations WHERE id = $1`, in.ReservationID); err != nil {
		return nil, fmt.Errorf("delete reservation %d: %w", in.ReservationID, err)
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       lot.ID,
		EventType:   EventReservationCanceled,
		Reason:      notes,
		PerformedBy: performedBy,
		PerformedAt: canceledAt,
	})
	if err != nil {
		return nil, err
	}

	return &ReservationCancelResult{
		LotID:      lot.ID,
		LotCode:    lot.LotCode,
		LotEventID: eventID,
	}, nil
}
