package ledger

import (
	"context"
	"time"

	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// AgingStartInput moves a received lot into the aging state.
	AgingStartInput struct {
		LotID            int        `json:"lot_id"`
		AgingLocationID  int        `json:"aging_location_id"`
		ProcessProfileID int        `json:"process_profile_id"`
		Reason           string     `json:"reason"`
		StartedAt        *time.Time `json:"started_at,omitempty"`
	}

	// AgingStartResult reports the computed aging window.
	AgingStartResult struct {
		LotID          int       `json:"lot_id"`
		State          LotState  `json:"state"`
		AgingStartedAt time.Time `json:"aging_started_at"`
		ReadyAt        time.Time `json:"ready_at"`
		LotEventID     int       `json:"lot_event_id"`
	}

	// AgingReleaseInput releases a lot whose aging window has elapsed.
	AgingReleaseInput struct {
		LotID      int        `json:"lot_id"`
		Reason     string     `json:"reason"`
		ReleasedAt *time.Time `json:"released_at,omitempty"`
	}

	// AgingReleaseResult reports the release timestamp.
	AgingReleaseResult struct {
		LotID      int       `json:"lot_id"`
		State      LotState  `json:"state"`
		ReleasedAt time.Time `json:"released_at"`
		LotEventID int       `json:"lot_event_id"`
	}
)

// ComputeReadyAt derives the end of the aging window from the profile's
// default aging days.
func ComputeReadyAt(startedAt time.Time, profile *ProcessProfile) (time.Time, error) {
	if profile.DefaultAgingDays == nil {
		return time.Time{}, Errf(CodeBadRequest, "Process profile missing default_aging_days")
	}

	return startedAt.Add(time.Duration(*profile.DefaultAgingDays) * 24 * time.Hour), nil
}

// StartAging transitions received -> aging, setting aging_started_at and
// ready_at from the profile's aging window. The lot is locked because the
// lifecycle columns it mutates gate concurrent sales.
func StartAging(ctx context.Context, q storage.Querier, in AgingStartInput, performedBy int) (*AgingStartResult, error) {
	lot, err := lockLot(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	if lot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid lot_id")
	}

	if lot.State == StateQuarantined {
		return nil, Errf(CodeQuarantined, "Cannot age a quarantined lot")
	}

	if lot.State != StateReceived {
		return nil, Errf(CodeIneligibleState, "Lot is not eligible for aging (state=%s)", lot.State)
	}

	profile, err := profileByID(ctx, q, in.ProcessProfileID)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		return nil, Errf(CodeInvalidReference, "Invalid process_profile_id")
	}

	ok, err := locationExists(ctx, q, in.AgingLocationID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, Errf(CodeInvalidReference, "Invalid aging_location_id")
	}

	startedAt := time.Now().UTC()
	if in.StartedAt != nil {
		startedAt = in.StartedAt.UTC()
	}

	readyAt, err := ComputeReadyAt(startedAt, profile)
	if err != nil {
		return nil, err
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       in.LotID,
		EventType:   EventAgingStarted,
		Reason:      in.Reason,
		PerformedBy: performedBy,
		PerformedAt: startedAt,
	})
	if err != nil {
		return nil, err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE lots
		SET state = $1, aging_started_at = $2, ready_at = $3, current_location_id = $4
		WHERE id = $5`,
		string(StateAging), startedAt, readyAt, in.AgingLocationID, in.LotID); err != nil {
		return nil, err
	}

	return &AgingStartResult{
		LotID:          in.LotID,
		State:          StateAging,
		AgingStartedAt: startedAt,
		ReadyAt:        readyAt,
		LotEventID:     eventID,
	}, nil
}

// ReleaseAging transitions aging -> released once ready_at has passed.
func ReleaseAging(ctx context.Context, q storage.Querier, in AgingReleaseInput, performedBy int) (*AgingReleaseResult, error) {
	lot, err := lockLot(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	if lot == nil {
		return nil, Errf(CodeInvalidReference, "Invalid lot_id")
	}

	if lot.State == StateQuarantined {
		return nil, Errf(CodeQuarantined, "Cannot release a quarantined lot")
	}

	if lot.State != StateAging {
		return nil, Errf(CodeIneligibleState, "Lot is not in aging state")
	}

	releasedAt := time.Now().UTC()
	if in.ReleasedAt != nil {
		releasedAt = in.ReleasedAt.UTC()
	}

	if lot.ReadyAt == nil {
		return nil, Errf(CodeNotReady, "Lot has no ready_at")
	}

	if lot.ReadyAt.After(releasedAt) {
		return nil, Errf(CodeNotReady, "Lot is not ready to release yet")
	}

	eventID, err := insertEvent(ctx, q, Event{
		LotID:       in.LotID,
		EventType:   EventReleased,
		Reason:      in.Reason,
		PerformedBy: performedBy,
		PerformedAt: releasedAt,
	})
	if err != nil {
		return nil, err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE lots SET state = $1, released_at = $2 WHERE id = $3`,
		string(StateReleased), releasedAt, in.LotID); err != nil {
		return nil, err
	}

	return &AgingReleaseResult{
		LotID:      in.LotID,
		State:      StateReleased,
		ReleasedAt: releasedAt,
		LotEventID: eventID,
	}, nil
}
