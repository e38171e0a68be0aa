// Package ledger implements the lot lifecycle and material-balance engine:
// receiving, aging, breakdown, mixing, rework, QA, reservations and sales.
// Every operation runs in one database transaction, locks the lots it
// consumes, and writes its audit events before the lot state transition so
// the storage-level audit trigger sees them.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotState is the lot lifecycle state. String values are the storage contract.
type LotState string

const (
	StateReceived    LotState = "received"
	StateAging       LotState = "aging"
	StateReleased    LotState = "released"
	StateSold        LotState = "sold"
	StateDisposed    LotState = "disposed"
	StateQuarantined LotState = "quarantined"
)

// Terminal reports whether the state admits no further production use.
func (s LotState) Terminal() bool {
	switch s {
	case StateSold, StateDisposed, StateQuarantined:
		return true
	}

	return false
}

// Inventory movement types. Net movement per lot is the on-hand truth.
const (
	MoveReceiving       = "receiving"
	MoveBreakdownInput  = "breakdown_input"
	MoveBreakdownOutput = "breakdown_output"
	MoveMixInput        = "mix_input"
	MoveMixOutput       = "mix_output"
	MoveReworkInput     = "rework_input"
	MoveReworkOutput    = "rework_output"
	MoveReworkRemainder = "rework_remainder"
	MoveQASplitInput    = "qa_split_input"
	MoveQAPassOutput    = "qa_pass_output"
	MoveQAFailOutput    = "qa_fail_output"
	MoveSale            = "sale"
	MoveAdjustmentIn    = "adjustment_in"
	MoveAdjustmentOut   = "adjustment_out"

	// Typed loss movements are written as "breakdown_loss:{CODE}".
	MoveBreakdownLossPrefix = "breakdown_loss:"
)

// Lot event types.
const (
	EventReceived             = "received"
	EventAgingStarted         = "aging_started"
	EventReleased             = "released"
	EventSold                 = "sold"
	EventDisposed             = "disposed"
	EventQuarantined          = "quarantined"
	EventQuarantinedBulk      = "quarantined_bulk"
	EventBreakdown            = "breakdown"
	EventCreatedFromBreakdown = "created_from_breakdown"
	EventMixInput             = "mix_input"
	EventMixOutput            = "mix_output"
	EventReworkConsumed       = "rework_consumed"
	EventReworkOutput         = "rework_output"
	EventReworkRemainder      = "rework_remainder"
	EventQASplit              = "qa_split"
	EventQAPassOutput         = "qa_pass_output"
	EventQAFailOutput         = "qa_fail_output"
	EventReservationCanceled  = "reservation_canceled"
)

// Production order process types.
const (
	ProcessBreakdown = "breakdown"
	ProcessMix       = "mix"
	ProcessQASplit   = "qa_split"
	ProcessRework    = "rework"
)

// Process profiles looked up by name. Seeded by the core schema migration;
// operations fail fast with a missing_profile error when a row is absent.
const (
	ProfileBreakdown = "Breakdown"
	ProfileQASplit   = "QA Split"
	ProfileRework    = "Rework / Regrade"
)

// Lot code prefixes.
const (
	PrefixReceiving       = "REC"
	PrefixBreakdown       = "BD"
	PrefixMix             = "MIX"
	PrefixRework          = "RW"
	PrefixReworkRemainder = "RM"
	PrefixQAPass          = "QA"
	PrefixQAFail          = "QF"
)

type (
	// Lot is one traceable quantity of a single item from a single lineage step.
	Lot struct {
		ID                int
		LotCode           string
		ItemID            int
		SupplierID        *int
		CurrentLocationID *int
		State             LotState
		ReceivedAt        time.Time
		AgingStartedAt    *time.Time
		ReadyAt           *time.Time
		ReleasedAt        *time.Time
		ExpiresAt         *time.Time
	}

	// Movement is a positive-valued record of material entering or leaving a lot.
	Movement struct {
		LotID          int
		FromLocationID *int
		ToLocationID   *int
		QuantityKg     decimal.Decimal
		MovedAt        time.Time
		MoveType       string
	}

	// Event is an immutable audit entry attached to a lot.
	Event struct {
		LotID       int
		EventType   string
		Reason      string
		PerformedBy int
		PerformedAt time.Time
	}

	// LotRef is the (id, lot_code) handle returned for newly created lots.
	LotRef struct {
		ID         int             `json:"id"`
		LotCode    string          `json:"lot_code"`
		QuantityKg decimal.Decimal `json:"quantity_kg"`
	}

	// ProcessProfile mirrors a process_profiles row.
	ProcessProfile struct {
		ID               int
		Name             string
		AllowsLotMixing  bool
		DefaultAgingMode *string
		DefaultAgingDays *int
	}
)
