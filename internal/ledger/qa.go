package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lotline-io/lotline/internal/storage"
)

// QA check modes.
const (
	QAModeFull    = "full"
	QAModePartial = "partial"
)

type (
	// QACheckInput records a quality check against a lot. Full mode records
	// a pass/fail verdict (quarantining the lot on fail); partial mode
	// splits the lot's full availability into pass and fail child lots.
	QACheckInput struct {
		LotID       int              `json:"lot_id"`
		CheckType   string           `json:"check_type"`
		Mode        string           `json:"mode,omitempty"`
		Passed      *bool            `json:"passed,omitempty"`
		PassQtyKg   *decimal.Decimal `json:"pass_qty_kg,omitempty"`
		FailQtyKg   *decimal.Decimal `json:"fail_qty_kg,omitempty"`
		Notes       string           `json:"notes,omitempty"`
		PerformedAt *time.Time       `json:"performed_at,omitempty"`
	}

	// QACheckResult carries the check id and, for partial mode, the child lots.
	QACheckResult struct {
		QACheckID   int     `json:"qa_check_id"`
		Quarantined bool    `json:"quarantined"`
		LotEventID  int     `json:"lot_event_id,omitempty"`
		PassLot     *LotRef `json:"pass_lot,omitempty"`
		FailLot     *LotRef `json:"fail_lot,omitempty"`
	}
)

// QACheck performs a full or partial quality check on a locked lot.
func QACheck(ctx context.Context, q storage.Querier, in QACheckInput, performedBy int) (*QACheckResult, error) {
	// Lock lot to prevent concurrent consumption (sale/breakdown/qa split).
	lot, err := lockLot(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	if lot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid lot_id")
	}

	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
	}

	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = QAModeFull
	}

	switch mode {
	case QAModeFull:
		return qaFull(ctx, q, lot, in, performedBy, performedAt)
	case QAModePartial:
		return qaPartialSplit(ctx, q, lot, in, performedBy, performedAt)
	default:
		return nil, Errf(CodeBadRequest, "mode must be 'full' or 'partial'")
	}
}

func qaFull(ctx context.Context, q storage.Querier, lot *Lot, in QACheckInput, performedBy int, performedAt time.Time) (*QACheckResult, error) {
	if in.Passed == nil {
		return nil, Errf(CodeBadRequest, "passed is required for full mode")
	}

	checkID, err := insertQACheck(ctx, q, lot.ID, in.CheckType, *in.Passed, in.Notes, performedAt, QAModeFull, nil, nil)
	if err != nil {
		return nil, err
	}

	result := &QACheckResult{QACheckID: checkID}

	if !*in.Passed {
		result.Quarantined = true

		// Already-quarantined lots get the check recorded without a second transition.
		if lot.State != StateQuarantined {
			eventID, err := insertEvent(ctx, q, Event{
				LotID:       lot.ID,
				EventType:   EventQuarantined,
				Reason:      "QA fail: " + in.CheckType,
				PerformedBy: performedBy,
				PerformedAt: performedAt,
			})
			if err != nil {
				return nil, err
			}

			result.LotEventID = eventID

			if err := setLotState(ctx, q, lot.ID, StateQuarantined); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// qaPartialSplit consumes the lot's full availability into pass/fail child
// lots under mass balance, through a qa_split production order. The source
// lot ends disposed; the fail lot is born quarantined.
func qaPartialSplit(ctx context.Context, q storage.Querier, lot *Lot, in QACheckInput, performedBy int, performedAt time.Time) (*QACheckResult, error) {
	passQty := decimal.Zero
	if in.PassQtyKg != nil {
		passQty = *in.PassQtyKg
	}

	failQty := decimal.Zero
	if in.FailQtyKg != nil {
		failQty = *in.FailQtyKg
	}

	if !KgPositive(passQty) && !KgPositive(failQty) {
		return nil, Errf(CodeBadRequest, "Partial mode requires pass_qty_kg and/or fail_qty_kg")
	}

	if passQty.IsNegative() || failQty.IsNegative() {
		return nil, Errf(CodeBadRequest, "pass_qty_kg and fail_qty_kg must not be negative")
	}

	available, err := AvailableKg(ctx, q, lot.ID)
	if err != nil {
		return nil, err
	}

	total := passQty.Add(failQty)

	if !KgEqual(total, available) {
		return nil, Errf(CodeWeightMismatch,
			"Partial QA must split full available qty. available=%s pass+fail=%s",
			Kg3(available), Kg3(total))
	}

	passed := !KgPositive(failQty)

	checkID, err := insertQACheck(ctx, q, lot.ID, in.CheckType, passed, in.Notes, performedAt, QAModePartial, in.PassQtyKg, in.FailQtyKg)
	if err != nil {
		return nil, err
	}

	profile, err := profileByName(ctx, q, ProfileQASplit)
	if err != nil {
		return nil, err
	}

	orderID, err := insertProductionOrder(ctx, q, profile.ID, ProcessQASplit, false, performedAt)
	if err != nil {
		return nil, err
	}

	if err := insertProductionInput(ctx, q, orderID, lot.ID, total); err != nil {
		return nil, err
	}

	reason := in.Notes
	if reason == "" {
		reason = "QA partial split: " + in.CheckType
	}

	rootEventID, err := insertEvent(ctx, q, Event{
		LotID:       lot.ID,
		EventType:   EventQASplit,
		Reason:      reason,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	})
	if err != nil {
		return nil, err
	}

	// Consume from current location so the source lot's availability drops to 0.
	if _, err := insertMovement(ctx, q, Movement{
		LotID:          lot.ID,
		FromLocationID: lot.CurrentLocationID,
		QuantityKg:     total,
		MovedAt:        performedAt,
		MoveType:       MoveQASplitInput,
	}); err != nil {
		return nil, err
	}

	result := &QACheckResult{
		QACheckID:   checkID,
		Quarantined: KgPositive(failQty),
		LotEventID:  rootEventID,
	}

	outputReason := in.Notes
	if outputReason == "" {
		outputReason = in.CheckType
	}

	if KgPositive(passQty) {
		passLot, err := createQAOutput(ctx, q, lot, orderID, PrefixQAPass, passQty, lot.State,
			EventQAPassOutput, MoveQAPassOutput, outputReason, performedBy, performedAt)
		if err != nil {
			return nil, err
		}

		result.PassLot = passLot

		if _, err := q.ExecContext(ctx,
			`UPDATE qa_checks SET pass_lot_id = $1 WHERE id = $2`, passLot.ID, checkID); err != nil {
			return nil, fmt.Errorf("link pass lot to qa check %d: %w", checkID, err)
		}
	}

	if KgPositive(failQty) {
		failLot, err := createQAOutput(ctx, q, lot, orderID, PrefixQAFail, failQty, StateQuarantined,
			EventQAFailOutput, MoveQAFailOutput, outputReason, performedBy, performedAt)
		if err != nil {
			return nil, err
		}

		result.FailLot = failLot

		if _, err := q.ExecContext(ctx,
			`UPDATE qa_checks SET fail_lot_id = $1 WHERE id = $2`, failLot.ID, checkID); err != nil {
			return nil, fmt.Errorf("link fail lot to qa check %d: %w", checkID, err)
		}
	}

	if _, err := insertEvent(ctx, q, Event{
		LotID:       lot.ID,
		EventType:   EventDisposed,
		Reason:      "QA partial split consumed lot",
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	}); err != nil {
		return nil, err
	}

	if err := setLotState(ctx, q, lot.ID, StateDisposed); err != nil {
		return nil, err
	}

	return result, nil
}

// createQAOutput allocates a pass/fail child lot inheriting the source's
// supplier, lifecycle timestamps and location.
func createQAOutput(
	ctx context.Context,
	q storage.Querier,
	source *Lot,
	orderID int,
	prefix string,
	qty decimal.Decimal,
	state LotState,
	eventType, moveType, reason string,
	performedBy int,
	performedAt time.Time,
) (*LotRef, error) {
	code, err := NextLotCode(ctx, q, prefix, performedAt)
	if err != nil {
		return nil, err
	}

	lotID, err := insertLot(ctx, q, &Lot{
		LotCode:           code,
		ItemID:            source.ItemID,
		SupplierID:        source.SupplierID,
		CurrentLocationID: source.CurrentLocationID,
		State:             state,
		ReceivedAt:        source.ReceivedAt,
		AgingStartedAt:    source.AgingStartedAt,
		ReadyAt:           source.ReadyAt,
		ReleasedAt:        source.ReleasedAt,
		ExpiresAt:         source.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	if err := insertProductionOutput(ctx, q, orderID, lotID, qty); err != nil {
		return nil, err
	}

	if _, err := insertEvent(ctx, q, Event{
		LotID:       lotID,
		EventType:   eventType,
		Reason:      reason,
		PerformedBy: performedBy,
		PerformedAt: performedAt,
	}); err != nil {
		return nil, err
	}

	if _, err := insertMovement(ctx, q, Movement{
		LotID:        lotID,
		ToLocationID: source.CurrentLocationID,
		QuantityKg:   qty,
		MovedAt:      performedAt,
		MoveType:     moveType,
	}); err != nil {
		return nil, err
	}

	return &LotRef{ID: lotID, LotCode: code, QuantityKg: qty}, nil
}

func insertQACheck(
	ctx context.Context,
	q storage.Querier,
	lotID int,
	checkType string,
	passed bool,
	notes string,
	performedAt time.Time,
	mode string,
	passQty, failQty *decimal.Decimal,
) (int, error) {
	var (
		id       int
		notesVal any
	)

	if notes != "" {
		notesVal = notes
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO qa_checks (lot_id, check_type, passed, notes, performed_at, mode, pass_qty_kg, fail_qty_kg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		lotID, checkType, passed, notesVal, performedAt, mode, passQty, failQty,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert qa check for lot %d: %w", lotID, err)
	}

	return id, nil
}
